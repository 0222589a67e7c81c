package session

// Inputs holds the user-editable values a generation request is built from.
type Inputs struct {
	prompt       string
	stylePrompt  string
	maskBase64   string
	learningRate float64
	numRecSteps  *int
	modelType    string
}

// Defaults seeds Inputs from configuration.
type Defaults struct {
	StylePrompt  string
	LearningRate float64
	NumRecSteps  int
	ModelType    string
}

func NewInputs(d Defaults) *Inputs {
	in := &Inputs{
		stylePrompt:  d.StylePrompt,
		learningRate: d.LearningRate,
		modelType:    d.ModelType,
	}
	if d.NumRecSteps > 0 {
		in.SetNumRecSteps(d.NumRecSteps)
	}
	return in
}

func (in *Inputs) Prompt() string          { return in.prompt }
func (in *Inputs) SetPrompt(p string)      { in.prompt = p }
func (in *Inputs) StylePrompt() string     { return in.stylePrompt }
func (in *Inputs) SetStylePrompt(s string) { in.stylePrompt = s }
func (in *Inputs) MaskBase64() string      { return in.maskBase64 }
func (in *Inputs) SetMaskBase64(m string)  { in.maskBase64 = m }
func (in *Inputs) ModelType() string       { return in.modelType }
func (in *Inputs) SetModelType(m string)   { in.modelType = m }

// LearningRate is in UI units; requests carry it divided by 1000.
func (in *Inputs) LearningRate() float64 {
	return in.learningRate
}

func (in *Inputs) SetLearningRate(lr float64) {
	in.learningRate = lr
}

// NumRecSteps returns nil when the server default applies.
func (in *Inputs) NumRecSteps() *int {
	return in.numRecSteps
}

// SetNumRecSteps sets the step count; n <= 0 restores the server default.
func (in *Inputs) SetNumRecSteps(n int) {
	if n <= 0 {
		in.numRecSteps = nil
		return
	}
	in.numRecSteps = &n
}
