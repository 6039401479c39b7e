package model

import "strings"

// ActionKind is the canonical name of a conversational action.
type ActionKind string

// Canonical action kinds.
const (
	ActionSubmitText        ActionKind = "submit_text"
	ActionSubmitImage       ActionKind = "submit_image"
	ActionConfirm           ActionKind = "confirm"
	ActionReject            ActionKind = "reject"
	ActionCorrectField      ActionKind = "correct_field"
	ActionEscalate          ActionKind = "escalate"
	ActionUseAnyway         ActionKind = "use_anyway"
	ActionSpecifyVintage    ActionKind = "specify_vintage"
	ActionMarkNonVintage    ActionKind = "mark_non_vintage"
	ActionSpecifyProducer   ActionKind = "specify_producer"
	ActionUseProducerAsName ActionKind = "use_producer_as_name"
	ActionUseGrapeAsName    ActionKind = "use_grape_as_name"
	ActionEnterManually     ActionKind = "enter_manually"
	ActionProvideDetails    ActionKind = "provide_more_details"
	ActionSearchAgain       ActionKind = "search_again"
	ActionRetry             ActionKind = "retry"
	ActionStartOver         ActionKind = "start_over"
	ActionCancel            ActionKind = "cancel"
	ActionEnrich            ActionKind = "enrich"
	ActionAddToCellar       ActionKind = "add_to_cellar"
	ActionOpenCamera        ActionKind = "open_camera"
)

// ActionKinds lists every canonical action kind.
var ActionKinds = []ActionKind{
	ActionSubmitText, ActionSubmitImage, ActionConfirm, ActionReject,
	ActionCorrectField, ActionEscalate, ActionUseAnyway, ActionSpecifyVintage,
	ActionMarkNonVintage, ActionSpecifyProducer, ActionUseProducerAsName,
	ActionUseGrapeAsName, ActionEnterManually, ActionProvideDetails,
	ActionSearchAgain, ActionRetry, ActionStartOver, ActionCancel,
	ActionEnrich, ActionAddToCellar, ActionOpenCamera,
}

// actionAliases maps legacy client action names onto canonical kinds.
var actionAliases = map[string]ActionKind{
	"identify":             ActionSubmitText,
	"identify_text":        ActionSubmitText,
	"identify_image":       ActionSubmitImage,
	"correct":              ActionConfirm,
	"not_correct":          ActionReject,
	"try_harder":           ActionEscalate,
	"reidentify":           ActionSearchAgain,
	"new_search":           ActionStartOver,
	"retry_identification": ActionRetry,
	"non_vintage":          ActionMarkNonVintage,
	"nv":                   ActionMarkNonVintage,
	"add_more_info":        ActionProvideDetails,
	"add_wine":             ActionAddToCellar,
	"take_photo":           ActionOpenCamera,
	"manual_entry":         ActionEnterManually,
}

// ParseActionKind resolves a canonical or legacy action name.
func ParseActionKind(name string) (ActionKind, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, k := range ActionKinds {
		if string(k) == n {
			return k, true
		}
	}
	k, ok := actionAliases[n]
	return k, ok
}

// Action is a user action dispatched against a session.
type Action struct {
	Kind      ActionKind  `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Text      string      `json:"text,omitempty"`
	Image     []byte      `json:"image,omitempty"`
	ImageMIME string      `json:"mimeType,omitempty"`
	Field     Field       `json:"field,omitempty"`
	Value     string      `json:"value,omitempty"`
	Payload   Corrections `json:"corrections,omitempty"`
}

// ChipPriority orders chips for presentation.
type ChipPriority string

// Chip priorities.
const (
	ChipPrimary   ChipPriority = "primary"
	ChipSecondary ChipPriority = "secondary"
)

// Chip is a suggested follow-up action shown to the user.
type Chip struct {
	ID       string            `json:"id"`
	LabelKey string            `json:"labelKey"`
	Action   ActionKind        `json:"action"`
	Payload  map[string]string `json:"payload,omitempty"`
	Priority ChipPriority      `json:"priority"`
}
