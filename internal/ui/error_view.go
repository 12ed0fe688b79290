package ui

import "fmt"

// ErrorSink is implemented by surfaces that can show a degraded panel.
type ErrorSink interface {
	ShowError(component, message string)
}

// ErrorView stands in for a panel that could not be built, so the rest of
// the kiosk keeps working.
type ErrorView struct {
	Component string
	Err       error
}

func NewErrorView(component string, err error) *ErrorView {
	return &ErrorView{Component: component, Err: err}
}

func (v *ErrorView) Message() string {
	if v.Err == nil {
		return fmt.Sprintf("%s unavailable", v.Component)
	}
	return fmt.Sprintf("%s unavailable: %v", v.Component, v.Err)
}

func (v *ErrorView) Render(sink ErrorSink) {
	sink.ShowError(v.Component, v.Message())
}
