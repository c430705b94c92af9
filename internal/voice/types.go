package voice

// Recognized gender categories, as labeled by the voice service.
const (
	GenderMale   = "男声"
	GenderFemale = "女声"
)

// OptionState tracks a candidate voice's preview fetch lifecycle.
type OptionState string

const (
	StateUnfetched OptionState = "unfetched"
	StateFetching  OptionState = "fetching"
	StateReady     OptionState = "ready"
	StateFailed    OptionState = "failed"
)

// Option is a candidate voice surfaced to the user for preview/selection.
type Option struct {
	ID         string      `json:"id"` // gender + label, stable within one recommendation batch
	Label      string      `json:"label"`
	Gender     string      `json:"gender"`
	PreviewURL string      `json:"preview_url,omitempty"`
	State      OptionState `json:"state"`
}

// NewOption builds an Option in the unfetched state.
func NewOption(gender, label string) Option {
	return Option{
		ID:     gender + "-" + label,
		Label:  label,
		Gender: gender,
		State:  StateUnfetched,
	}
}

// Recommendation is one batch of candidate voices per gender category.
type Recommendation struct {
	Text   string   `json:"text"` // the script the voices were recommended for
	Male   []Option `json:"male"`
	Female []Option `json:"female"`
}

// Find returns the option matching gender and label, if present.
func (r *Recommendation) Find(gender, label string) (Option, bool) {
	for _, o := range r.Male {
		if o.Gender == gender && o.Label == label {
			return o, true
		}
	}
	for _, o := range r.Female {
		if o.Gender == gender && o.Label == label {
			return o, true
		}
	}
	return Option{}, false
}
