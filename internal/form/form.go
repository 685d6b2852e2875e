// Package form models the wealth verification form: the canonical field
// contract, value parsing, and submit validation.
package form

import (
	"fmt"
	"strconv"
	"strings"
)

// Canonical field keys. Reads and writes use exactly these; the Portal
// accepts no other casing.
const (
	FieldVerificationMethod   = "verification_method"
	FieldDeclaredAssets       = "declared_assets"
	FieldDeclaredLiabilities  = "declared_liabilities"
	FieldNetWorth             = "net_worth"
	FieldSupportingDocuments  = "supporting_documents"
	FieldSignatureFile        = "signature_file"
	FieldCertificationChecked = "certification_checked"
	FieldNotes                = "notes"
)

// Method is how the client chose to verify their wealth.
type Method string

const (
	MethodBankStatement       Method = "bank_statement"
	MethodInvestmentPortfolio Method = "investment_portfolio"
	MethodPropertyAppraisal   Method = "property_appraisal"
)

// Methods returns the selectable verification methods in display order.
func Methods() []Method {
	return []Method{MethodBankStatement, MethodInvestmentPortfolio, MethodPropertyAppraisal}
}

// ParseMethod validates a raw method value.
func ParseMethod(raw string) (Method, error) {
	m := Method(raw)
	for _, known := range Methods() {
		if m == known {
			return m, nil
		}
	}

	return "", fmt.Errorf("unknown verification method %q (choose one of %s)", raw, methodList())
}

func methodList() string {
	names := make([]string, 0, len(Methods()))
	for _, m := range Methods() {
		names = append(names, string(m))
	}

	return strings.Join(names, ", ")
}

// Form holds the editable state of one verification task. Unset fields
// stay out of the PATCH body, so a partial edit never clobbers values
// the user did not touch.
type Form struct {
	TaskID string

	Method               Method
	DeclaredAssets       *float64
	DeclaredLiabilities  *float64
	SupportingDocuments  []string
	SignatureFile        string
	CertificationChecked *bool
	Notes                string
}

// New returns an empty form for a task.
func New(taskID string) *Form {
	return &Form{TaskID: taskID}
}

// FromFields builds a form from a task's current field values. The map
// comes off the wire, so entries may be missing or mistyped; anything
// unreadable is treated as unset rather than failing the load.
func FromFields(taskID string, fields map[string]any) *Form {
	f := New(taskID)

	if raw, ok := asString(fields[FieldVerificationMethod]); ok {
		f.Method = Method(raw)
	}

	if v, ok := asFloat(fields[FieldDeclaredAssets]); ok {
		f.DeclaredAssets = &v
	}

	if v, ok := asFloat(fields[FieldDeclaredLiabilities]); ok {
		f.DeclaredLiabilities = &v
	}

	if docs, ok := asStringSlice(fields[FieldSupportingDocuments]); ok {
		f.SupportingDocuments = docs
	}

	if raw, ok := asString(fields[FieldSignatureFile]); ok {
		f.SignatureFile = raw
	}

	if v, ok := asBool(fields[FieldCertificationChecked]); ok {
		f.CertificationChecked = &v
	}

	if raw, ok := asString(fields[FieldNotes]); ok {
		f.Notes = raw
	}

	return f
}

// Set parses a raw value into the named field. This is the single entry
// point for values typed by the user, so every field gets the same
// parsing whether it came from a prompt or a --field flag.
func (f *Form) Set(field, value string) error {
	switch field {
	case FieldVerificationMethod:
		m, err := ParseMethod(value)
		if err != nil {
			return err
		}

		f.Method = m
	case FieldDeclaredAssets:
		v, err := parseFigure(field, value)
		if err != nil {
			return err
		}

		f.DeclaredAssets = &v
	case FieldDeclaredLiabilities:
		v, err := parseFigure(field, value)
		if err != nil {
			return err
		}

		f.DeclaredLiabilities = &v
	case FieldNetWorth:
		return fmt.Errorf("%s is computed from assets and liabilities and cannot be set", FieldNetWorth)
	case FieldSupportingDocuments:
		f.SupportingDocuments = splitList(value)
	case FieldSignatureFile:
		f.SignatureFile = value
	case FieldCertificationChecked:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", field, err)
		}

		f.CertificationChecked = &v
	case FieldNotes:
		f.Notes = value
	default:
		return fmt.Errorf("unknown field %q", field)
	}

	return nil
}

// Fields returns the sparse PATCH body: only set values, plus the
// computed net worth whenever a figure is present.
func (f *Form) Fields() map[string]any {
	fields := make(map[string]any)

	if f.Method != "" {
		fields[FieldVerificationMethod] = string(f.Method)
	}

	if f.DeclaredAssets != nil {
		fields[FieldDeclaredAssets] = *f.DeclaredAssets
	}

	if f.DeclaredLiabilities != nil {
		fields[FieldDeclaredLiabilities] = *f.DeclaredLiabilities
	}

	if f.DeclaredAssets != nil || f.DeclaredLiabilities != nil {
		fields[FieldNetWorth] = f.NetWorth()
	}

	if f.SupportingDocuments != nil {
		fields[FieldSupportingDocuments] = f.SupportingDocuments
	}

	if f.SignatureFile != "" {
		fields[FieldSignatureFile] = f.SignatureFile
	}

	if f.CertificationChecked != nil {
		fields[FieldCertificationChecked] = *f.CertificationChecked
	}

	if f.Notes != "" {
		fields[FieldNotes] = f.Notes
	}

	return fields
}

// NetWorth computes declared assets minus declared liabilities, treating
// an unset figure as zero. The result may be negative.
func (f *Form) NetWorth() float64 {
	var assets, liabilities float64

	if f.DeclaredAssets != nil {
		assets = *f.DeclaredAssets
	}

	if f.DeclaredLiabilities != nil {
		liabilities = *f.DeclaredLiabilities
	}

	return assets - liabilities
}

// Validate checks the form is complete enough to submit. All problems
// are reported at once so the user fixes them in one pass.
func (f *Form) Validate() error {
	var problems []string

	if f.Method == "" {
		problems = append(problems, "verification method not chosen")
	} else if _, err := ParseMethod(string(f.Method)); err != nil {
		problems = append(problems, err.Error())
	}

	if f.DeclaredAssets != nil && *f.DeclaredAssets < 0 {
		problems = append(problems, "declared assets must not be negative")
	}

	if f.DeclaredLiabilities != nil && *f.DeclaredLiabilities < 0 {
		problems = append(problems, "declared liabilities must not be negative")
	}

	if f.SignatureFile == "" {
		problems = append(problems, "signature file not uploaded")
	}

	if f.CertificationChecked == nil || !*f.CertificationChecked {
		problems = append(problems, "certification not confirmed")
	}

	if len(problems) > 0 {
		return fmt.Errorf("form not ready to submit: %s", strings.Join(problems, "; "))
	}

	return nil
}

func parseFigure(field, value string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}

	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}

	return v, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")

	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}

	return s, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}

		return parsed, true
	default:
		return false, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), true
	case []any:
		out := make([]string, 0, len(s))

		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}

		return out, true
	default:
		return nil, false
	}
}
