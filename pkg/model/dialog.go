package model

// DialogMode is the state a conversation is in after the last action.
type DialogMode string

const (
	// DialogModeWait means the dialog is waiting for new user input.
	DialogModeWait DialogMode = "wait"
	// DialogModeScorer means the next step is another action selection.
	DialogModeScorer DialogMode = "scorer"
	// DialogModeEndSession means the dialog has ended.
	DialogModeEndSession DialogMode = "end_session"
)

// LabeledEntity is one labeled span inside a text variation.
type LabeledEntity struct {
	EntityID   string `json:"entityId"`
	StartIndex int    `json:"startCharIndex"`
	EndIndex   int    `json:"endCharIndex"`
	Text       string `json:"entityText"`
	// Resolution and BuiltinType are backfilled for pretrained entities.
	Resolution  string `json:"resolution,omitempty"`
	BuiltinType string `json:"builtinType,omitempty"`
}

// TextVariation is one literal user utterance plus its entity labels.
type TextVariation struct {
	Text            string          `json:"text"`
	LabeledEntities []LabeledEntity `json:"labelEntities"`
}

// ExtractorStep groups the text variations of one user turn.
type ExtractorStep struct {
	TextVariations []TextVariation `json:"textVariations"`
}

// ScorerInput is the memory snapshot an action decision was made against.
type ScorerInput struct {
	FilledEntities []FilledEntity `json:"filledEntities"`
	Text           string         `json:"text,omitempty"`
}

// LogicResult captures the side effect of an API action's logic callback:
// the memory delta it produced and its serialized return value. Error is
// set when the callback failed; the failure is recorded, never thrown.
type LogicResult struct {
	LogicValue            string         `json:"logicValue,omitempty"`
	ChangedFilledEntities []FilledEntity `json:"changedFilledEntities"`
	Error                 string         `json:"error,omitempty"`
}

// ScorerStep is one action-selection decision within a round.
type ScorerStep struct {
	Input       ScorerInput  `json:"input"`
	LabelAction string       `json:"labelAction,omitempty"`
	LogicResult *LogicResult `json:"logicResult,omitempty"`
	// ImportText marks a stub imported from a transcript with no resolved
	// action yet.
	ImportText string `json:"importText,omitempty"`
}

// IsStub reports whether the step is an unresolved import stub.
func (s ScorerStep) IsStub() bool {
	return s.ImportText != "" && s.LabelAction == ""
}

// Round is one user-turn unit: an extraction step plus the ordered action
// decisions that followed it.
type Round struct {
	ExtractorStep ExtractorStep `json:"extractorStep"`
	ScorerSteps   []ScorerStep  `json:"scorerSteps"`
}

// AppDefinition is a snapshot of entity and action definitions.
type AppDefinition struct {
	AppID    string   `yaml:"app_id"   json:"appId,omitempty"`
	AppName  string   `yaml:"app_name" json:"appName,omitempty"`
	Entities []Entity `yaml:"entities" json:"entities"`
	Actions  []Action `yaml:"actions"  json:"actions"`
}

// TrainDialog is a stored conversation: ordered rounds plus the entity
// memory present before the first round and the definitions in force when
// the dialog was created.
type TrainDialog struct {
	DialogID              string         `json:"trainDialogId"`
	InitialFilledEntities []FilledEntity `json:"initialFilledEntities,omitempty"`
	Rounds                []Round        `json:"rounds"`
	Definitions           *AppDefinition `json:"definitions,omitempty"`
}

// Clone returns a deep copy of the dialog. Replay mutates its working copy
// and must never touch the caller's stored dialog.
func (d *TrainDialog) Clone() *TrainDialog {
	out := &TrainDialog{
		DialogID:              d.DialogID,
		InitialFilledEntities: cloneFilled(d.InitialFilledEntities),
		Rounds:                make([]Round, len(d.Rounds)),
	}
	if d.Definitions != nil {
		defs := *d.Definitions
		defs.Entities = append([]Entity(nil), d.Definitions.Entities...)
		defs.Actions = append([]Action(nil), d.Definitions.Actions...)
		out.Definitions = &defs
	}
	for i, r := range d.Rounds {
		nr := Round{
			ExtractorStep: ExtractorStep{
				TextVariations: make([]TextVariation, len(r.ExtractorStep.TextVariations)),
			},
			ScorerSteps: make([]ScorerStep, len(r.ScorerSteps)),
		}
		for j, tv := range r.ExtractorStep.TextVariations {
			nr.ExtractorStep.TextVariations[j] = TextVariation{
				Text:            tv.Text,
				LabeledEntities: append([]LabeledEntity(nil), tv.LabeledEntities...),
			}
		}
		for j, ss := range r.ScorerSteps {
			ns := ScorerStep{
				Input: ScorerInput{
					FilledEntities: cloneFilled(ss.Input.FilledEntities),
					Text:           ss.Input.Text,
				},
				LabelAction: ss.LabelAction,
				ImportText:  ss.ImportText,
			}
			if ss.LogicResult != nil {
				lr := LogicResult{
					LogicValue:            ss.LogicResult.LogicValue,
					ChangedFilledEntities: cloneFilled(ss.LogicResult.ChangedFilledEntities),
					Error:                 ss.LogicResult.Error,
				}
				ns.LogicResult = &lr
			}
			nr.ScorerSteps[j] = ns
		}
		out.Rounds[i] = nr
	}
	return out
}

func cloneFilled(in []FilledEntity) []FilledEntity {
	if in == nil {
		return nil
	}
	out := make([]FilledEntity, len(in))
	for i, f := range in {
		out[i] = FilledEntity{
			EntityID: f.EntityID,
			Values:   append([]MemoryValue(nil), f.Values...),
		}
	}
	return out
}
