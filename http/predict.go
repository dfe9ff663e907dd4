package http

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

//go:embed templates/index.html
var templateFS embed.FS

// Surfaces recorded with each prediction.
const (
	SourceForm      = "form"
	SourceAPI       = "api"
	SourceWebSocket = "websocket"
)

type pageData struct {
	Title      string
	Button     string
	Disclaimer template.HTML
	Form       FormInput
	Result     *Result
	Errors     []string

	GenderOptions    []Option
	YesNoOptions     []Option
	WorkTypeOptions  []Option
	ResidenceOptions []Option
	SmokingOptions   []Option

	MinAge, MaxAge         int
	MinGlucose, MaxGlucose float64
	MinBMI, MaxBMI         float64
	Step                   float64
}

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() *pageRenderer {
	return &pageRenderer{tmpl: template.Must(template.ParseFS(templateFS, "templates/index.html"))}
}

func (p *pageRenderer) render(w http.ResponseWriter, status int, form FormInput, result *Result, errs []string) error {
	data := pageData{
		Title:            "Stroke Prediction Application",
		Button:           PredictButton,
		Disclaimer:       renderEmphasis(Disclaimer),
		Form:             form,
		Result:           result,
		Errors:           errs,
		GenderOptions:    GenderOptions,
		YesNoOptions:     YesNoOptions,
		WorkTypeOptions:  WorkTypeOptions,
		ResidenceOptions: ResidenceOptions,
		SmokingOptions:   SmokingOptions,
		MinAge:           MinAge,
		MaxAge:           MaxAge,
		MinGlucose:       MinGlucose,
		MaxGlucose:       MaxGlucose,
		MinBMI:           MinBMI,
		MaxBMI:           MaxBMI,
		Step:             SliderStep,
	}
	var buf strings.Builder
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := fmt.Fprint(w, buf.String())
	return err
}

// renderEmphasis escapes s and turns **bold** pairs into <strong>.
func renderEmphasis(s string) template.HTML {
	parts := strings.Split(html.EscapeString(s), "**")
	var b strings.Builder
	for i, part := range parts {
		if i%2 == 1 && i < len(parts)-1 {
			b.WriteString("<strong>" + part + "</strong>")
			continue
		}
		if i%2 == 1 {
			b.WriteString("**")
		}
		b.WriteString(part)
	}
	return template.HTML(b.String())
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	if err := a.page.render(w, http.StatusOK, DefaultFormInput(), nil, nil); err != nil {
		a.logger.Error("failed to render page", zap.Error(err))
	}
}

func (a *API) handleFormPredict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.renderFormError(w, statusFor(err), DefaultFormInput(), err)
		return
	}
	form, err := ParseForm(r.PostForm)
	if err != nil {
		a.renderFormError(w, http.StatusBadRequest, form, err)
		return
	}
	res, err := a.service.Predict(r.Context(), form, SourceForm)
	if err != nil {
		a.renderFormError(w, statusFor(err), form, err)
		return
	}
	if err := a.page.render(w, http.StatusOK, form, &res, nil); err != nil {
		a.logger.Error("failed to render page", zap.Error(err))
	}
}

func (a *API) renderFormError(w http.ResponseWriter, status int, form FormInput, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.Error("form prediction failed", zap.Error(err))
	}
	var messages []string
	for _, e := range multierr.Errors(unwrapValidation(err)) {
		messages = append(messages, e.Error())
	}
	if rerr := a.page.render(w, status, form, nil, messages); rerr != nil {
		a.logger.Error("failed to render page", zap.Error(rerr))
	}
}

func (a *API) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	form, err := decodeForm(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	res, err := a.service.Predict(r.Context(), form, SourceAPI)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			a.logger.Error("prediction failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeForm reads a JSON body onto the default form, so omitted fields
// keep their widget defaults.
func decodeForm(r *http.Request) (FormInput, error) {
	form := DefaultFormInput()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&form); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return form, err
		}
		return form, &ValidationError{Err: fmt.Errorf("invalid request body: %w", err)}
	}
	return form, nil
}

func unwrapValidation(err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Err
	}
	return err
}
