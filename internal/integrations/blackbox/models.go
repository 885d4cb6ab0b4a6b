package blackbox

// Model is an entry of the model catalogue the endpoint accepts.
type Model struct {
	ID                string
	Name              string
	MaxTokens         int
	SupportsStreaming bool
}

var (
	ModelBlackbox = Model{ID: "blackbox", Name: "BLACKBOX", MaxTokens: 4096, SupportsStreaming: true}
	ModelGPT4o    = Model{ID: "gpt-4o", Name: "GPT-4", MaxTokens: 8192}
)

// DefaultModel is used when a request names none.
var DefaultModel = ModelBlackbox

var catalogue = []Model{ModelBlackbox, ModelGPT4o}

// Models returns the known models.
func Models() []Model {
	return append([]Model(nil), catalogue...)
}

// LookupModel finds a model by id.
func LookupModel(id string) (Model, bool) {
	for _, m := range catalogue {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// AgentMode selects a hosted agent instead of a plain model.
type AgentMode struct {
	Mode        bool   `json:"mode"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
