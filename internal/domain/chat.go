package domain

// ChatMessage is the message shape sent to the chat endpoint.
type ChatMessage struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Role    string     `json:"role"`
	Data    *ImageData `json:"data,omitempty"`
}

// ImageData carries an attached image as a base64 data URI.
type ImageData struct {
	FileText    string  `json:"fileText"`
	ImageBase64 string  `json:"imageBase64"`
	Title       *string `json:"title"`
}
