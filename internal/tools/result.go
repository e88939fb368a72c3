package tools

// Result is the unified return type from tool execution. A failing
// tool produces an error-status result fed back to the model, never a
// loop-level error.
type Result struct {
	ForLLM  string `json:"for_llm"`
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"` // internal error, not serialized
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
