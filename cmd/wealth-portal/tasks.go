package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"

	apperrors "github.com/prajiwaji-cpu/wealth-management-portal/internal/errors"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/form"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/portal"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/state"
)

func (a *app) tasks(ctx context.Context) error {
	if err := a.auth.Init(ctx); err != nil {
		return err
	}

	meta, err := a.client.Metadata(ctx)
	if err != nil {
		return err
	}

	ids, err := meta.ListSeriesIDs()
	if err != nil {
		return err
	}

	series, err := a.client.LoadSeries(ctx, ids)
	if err != nil {
		return err
	}

	fmt.Println(meta.Name)

	for _, id := range ids {
		list := series[strconv.FormatInt(id, 10)]
		if list == nil {
			fmt.Printf("\nseries %d (not available)\n", id)

			continue
		}

		fmt.Printf("\n%s\n", list.SeriesName)

		if len(list.Tasks) == 0 {
			fmt.Println("  no tasks")

			continue
		}

		for _, task := range list.Tasks {
			f := form.FromFields(task.ID, task.Fields)

			worth := "-"
			if f.DeclaredAssets != nil || f.DeclaredLiabilities != nil {
				worth = formatMoney(f.NetWorth())
			}

			certified := "no"
			if f.CertificationChecked != nil && *f.CertificationChecked {
				certified = "yes"
			}

			fmt.Printf("  %-20s method=%-22s net_worth=%-14s certified=%s\n",
				task.ID, valueOrDash(string(f.Method)), worth, certified)
		}
	}

	return nil
}

func (a *app) openTask(ctx context.Context, args []string) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		return errors.New("usage: wealth-portal open <taskId>")
	}

	taskID := args[0]

	if err := a.auth.Init(ctx); err != nil {
		return err
	}

	detail, err := a.client.Task(ctx, taskID)
	if err != nil {
		return err
	}

	f := form.FromFields(detail.ID, detail.Fields)

	if draft, err := a.store.Draft(taskID); err == nil {
		fmt.Printf("Resuming draft saved %s.\n", time.Unix(draft.SavedAt, 0).Format(time.RFC3339))

		f = form.FromFields(taskID, draft.Fields)
	} else if !errors.Is(err, apperrors.ErrDraftNotFound) {
		return err
	}

	printFormState(f)

	sc := bufio.NewScanner(os.Stdin)

	done, err := a.editForm(ctx, sc, f, detail)
	if err != nil {
		return err
	}

	if !done {
		// Input ended early; keep the work.
		return a.keepDraft(f)
	}

	if err := f.Validate(); err != nil {
		if derr := a.keepDraft(f); derr != nil {
			return derr
		}

		return err
	}

	fmt.Println("\nChanges to submit:")

	base := form.FromFields(detail.ID, detail.Fields)
	renderFieldDiffs(os.Stdout, base.Fields(), f.Fields())

	answer, ok := promptLine(sc, "Submit now? [y/N]", "")
	if !ok || !isYes(answer) {
		return a.keepDraft(f)
	}

	result, err := a.client.SubmitTask(ctx, taskID, f.Fields(), detail.EditSessionToken)
	if err != nil {
		if derr := a.keepDraft(f); derr != nil {
			a.logger.Warn("keeping draft failed", slog.String("error", derr.Error()))
		}

		return err
	}

	if err := a.store.DeleteDraft(taskID); err != nil {
		a.logger.Warn("removing draft failed", slog.String("error", err.Error()))
	}

	fmt.Printf("Task %s submitted.\n", result.ID)

	return nil
}

// editForm walks the user through each field. Returns false when input
// ended before the walk finished.
func (a *app) editForm(ctx context.Context, sc *bufio.Scanner, f *form.Form, detail *portal.TaskDetail) (bool, error) {
	fmt.Println("\nPress enter to keep a value, or type a new one.")

	fmt.Println("Verification methods:")

	for i, m := range form.Methods() {
		fmt.Printf("  %d) %s\n", i+1, m)
	}

	for {
		raw, ok := promptLine(sc, "method", string(f.Method))
		if !ok {
			return false, nil
		}

		if raw == "" {
			break
		}

		if idx, err := strconv.Atoi(raw); err == nil && idx >= 1 && idx <= len(form.Methods()) {
			raw = string(form.Methods()[idx-1])
		}

		if err := f.Set(form.FieldVerificationMethod, raw); err != nil {
			fmt.Println(err)

			continue
		}

		break
	}

	figures := []struct {
		field   string
		label   string
		current *float64
	}{
		{form.FieldDeclaredAssets, "declared assets", f.DeclaredAssets},
		{form.FieldDeclaredLiabilities, "declared liabilities", f.DeclaredLiabilities},
	}

	for _, fig := range figures {
		current := ""
		if fig.current != nil {
			current = formatMoney(*fig.current)
		}

		for {
			raw, ok := promptLine(sc, fig.label, current)
			if !ok {
				return false, nil
			}

			if raw == "" {
				break
			}

			if err := f.Set(fig.field, raw); err != nil {
				fmt.Println(err)

				continue
			}

			break
		}
	}

	fmt.Printf("Net worth: %s\n", formatMoney(f.NetWorth()))

	for {
		if detail.UploadLimits.MaxFiles > 0 && len(f.SupportingDocuments) >= detail.UploadLimits.MaxFiles {
			fmt.Printf("Document limit of %d reached.\n", detail.UploadLimits.MaxFiles)

			break
		}

		raw, ok := promptLine(sc, "add supporting document (file path, empty to continue)", "")
		if !ok {
			return false, nil
		}

		if raw == "" {
			break
		}

		blobID, err := a.uploadPath(ctx, raw, detail.UploadLimits)
		if err != nil {
			fmt.Println(err)

			continue
		}

		f.SupportingDocuments = append(f.SupportingDocuments, blobID)
		fmt.Printf("  uploaded as %s\n", blobID)
	}

	for {
		raw, ok := promptLine(sc, "signature image (file path)", f.SignatureFile)
		if !ok {
			return false, nil
		}

		if raw == "" {
			break
		}

		blobID, err := a.uploadPath(ctx, raw, detail.UploadLimits)
		if err != nil {
			fmt.Println(err)

			continue
		}

		f.SignatureFile = blobID
		fmt.Printf("  uploaded as %s\n", blobID)

		break
	}

	if raw, ok := promptLine(sc, "notes", f.Notes); !ok {
		return false, nil
	} else if raw != "" {
		f.Notes = raw
	}

	raw, ok := promptLine(sc, "I certify the declared figures are accurate [y/N]", "")
	if !ok {
		return false, nil
	}

	certified := isYes(raw)
	f.CertificationChecked = &certified

	return true, nil
}

func (a *app) keepDraft(f *form.Form) error {
	if err := a.store.SaveDraft(state.Draft{TaskID: f.TaskID, Fields: f.Fields()}); err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}

	fmt.Printf("Draft for %s saved locally. Resume with: wealth-portal open %s\n", f.TaskID, f.TaskID)

	return nil
}

func (a *app) submit(ctx context.Context, args []string) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		return errors.New("usage: wealth-portal submit <taskId> [--field name=value ...] [--from-draft] [--review]")
	}

	taskID := args[0]

	fs := flag.NewFlagSet("submit", flag.ContinueOnError)

	var fields fieldFlags

	fs.Var(&fields, "field", "set a field as name=value; repeatable")
	fromDraft := fs.Bool("from-draft", false, "start from the locally saved draft for this task")
	review := fs.Bool("review", false, "print a diff of the changes before submitting")

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if err := a.auth.Init(ctx); err != nil {
		return err
	}

	detail, err := a.client.Task(ctx, taskID)
	if err != nil {
		return err
	}

	base := form.FromFields(detail.ID, detail.Fields)

	f := form.FromFields(detail.ID, detail.Fields)
	if *fromDraft {
		draft, err := a.store.Draft(taskID)
		if err != nil {
			return err
		}

		f = form.FromFields(taskID, draft.Fields)
	}

	for _, kv := range fields {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("malformed --field %q, want name=value", kv)
		}

		if err := f.Set(strings.TrimSpace(name), value); err != nil {
			return err
		}
	}

	if err := f.Validate(); err != nil {
		return err
	}

	if *review {
		fmt.Println("Changes:")
		renderFieldDiffs(os.Stdout, base.Fields(), f.Fields())
	}

	result, err := a.client.SubmitTask(ctx, taskID, f.Fields(), detail.EditSessionToken)
	if err != nil {
		return err
	}

	if err := a.store.DeleteDraft(taskID); err != nil {
		a.logger.Warn("removing draft failed", slog.String("error", err.Error()))
	}

	fmt.Printf("Task %s submitted.\n", result.ID)

	return nil
}

func (a *app) upload(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: wealth-portal upload <taskId> <file> [file ...]")
	}

	taskID, paths := args[0], args[1:]

	if err := a.auth.Init(ctx); err != nil {
		return err
	}

	detail, err := a.client.Task(ctx, taskID)
	if err != nil {
		return err
	}

	if detail.UploadLimits.MaxFiles > 0 && len(paths) > detail.UploadLimits.MaxFiles {
		return fmt.Errorf("%d files exceeds the portal's limit of %d per task", len(paths), detail.UploadLimits.MaxFiles)
	}

	for _, path := range paths {
		blobID, err := a.uploadPath(ctx, path, detail.UploadLimits)
		if err != nil {
			return err
		}

		fmt.Printf("%s  %s\n", blobID, filepath.Base(path))
	}

	fmt.Printf("Attach ids to the task with: wealth-portal submit %s --field supporting_documents=<ids>\n", taskID)

	return nil
}

// uploadPath checks a file against the task's limits and uploads it.
func (a *app) uploadPath(ctx context.Context, path string, limits portal.UploadLimits) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	if limits.MaxFileBytes > 0 && info.Size() > limits.MaxFileBytes {
		return "", fmt.Errorf("%s is %d bytes, over the portal's limit of %d", path, info.Size(), limits.MaxFileBytes)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	return a.client.UploadFile(ctx, filepath.Base(path), file)
}

func (a *app) drafts(args []string) error {
	if len(args) >= 1 && args[0] == "rm" {
		if len(args) < 2 {
			return errors.New("usage: wealth-portal drafts rm <taskId>")
		}

		if err := a.store.DeleteDraft(args[1]); err != nil {
			return err
		}

		fmt.Printf("Draft for %s removed.\n", args[1])

		return nil
	}

	summaries, err := a.store.DraftSummaries()
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		fmt.Println("No local drafts.")

		return nil
	}

	for _, d := range summaries {
		fmt.Printf("%-20s method=%-22s saved %s\n",
			d.TaskID, valueOrDash(d.Method), time.Unix(d.SavedAt, 0).Format(time.RFC3339))
	}

	return nil
}

// inspectReport is the structured view the inspect command renders.
type inspectReport struct {
	TaskID          string         `json:"task_id" yaml:"task_id"`
	EditSessionHeld bool           `json:"edit_session_held" yaml:"edit_session_held"`
	UploadLimits    inspectLimits  `json:"upload_limits" yaml:"upload_limits"`
	Fields          []inspectField `json:"fields" yaml:"fields"`
}

type inspectLimits struct {
	MaxFileBytes int64 `json:"max_file_bytes" yaml:"max_file_bytes"`
	MaxFiles     int   `json:"max_files" yaml:"max_files"`
}

type inspectField struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Value   string `json:"value" yaml:"value"`
	FileURL string `json:"file_url,omitempty" yaml:"file_url,omitempty"`
}

func (a *app) inspect(ctx context.Context, args []string) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		return errors.New("usage: wealth-portal inspect <taskId> [--format text|json|yaml]")
	}

	taskID := args[0]

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	format := fs.String("format", "text", "output format: text, json or yaml")

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if err := a.auth.Init(ctx); err != nil {
		return err
	}

	detail, err := a.client.Task(ctx, taskID)
	if err != nil {
		return err
	}

	report := buildInspectReport(a.client, detail)

	switch *format {
	case "text":
		fmt.Printf("task %s\n", report.TaskID)
		fmt.Printf("edit session held: %v\n", report.EditSessionHeld)
		fmt.Printf("upload limits: %d bytes per file, %d files\n",
			report.UploadLimits.MaxFileBytes, report.UploadLimits.MaxFiles)

		for _, fld := range report.Fields {
			fmt.Printf("  %-24s %-8s %s\n", fld.Name, fld.Type, fld.Value)

			if fld.FileURL != "" {
				fmt.Printf("  %-24s %-8s %s\n", "", "url", fld.FileURL)
			}
		}
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}

		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}

		fmt.Print(string(data))
	default:
		return fmt.Errorf("unknown format %q", *format)
	}

	return nil
}

func buildInspectReport(client *portal.Client, detail *portal.TaskDetail) inspectReport {
	report := inspectReport{
		TaskID:          detail.ID,
		EditSessionHeld: detail.EditSessionToken != "",
		UploadLimits: inspectLimits{
			MaxFileBytes: detail.UploadLimits.MaxFileBytes,
			MaxFiles:     detail.UploadLimits.MaxFiles,
		},
	}

	names := make([]string, 0, len(detail.Fields))
	for name := range detail.Fields {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		value := detail.Fields[name]

		fld := inspectField{
			Name:  name,
			Type:  inferType(value),
			Value: formatFieldValue(value),
		}

		if detail.EditSessionToken != "" {
			if blobID := firstBlobID(name, value); blobID != "" {
				fld.FileURL = client.FileURL(detail.EditSessionToken, name, blobID)
			}
		}

		report.Fields = append(report.Fields, fld)
	}

	return report
}

// firstBlobID picks a representative blob id out of a file-bearing field
// so inspect can show a composed retrieval URL.
func firstBlobID(name string, value any) string {
	switch name {
	case form.FieldSignatureFile:
		if s, ok := value.(string); ok {
			return s
		}
	case form.FieldSupportingDocuments:
		switch list := value.(type) {
		case []any:
			for _, item := range list {
				if s, ok := item.(string); ok && s != "" {
					return s
				}
			}
		case []string:
			if len(list) > 0 {
				return list[0]
			}
		}
	}

	return ""
}

func inferType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case []any, []string:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// --- shared rendering helpers ---

// fieldFlags collects repeated --field name=value pairs.
type fieldFlags []string

func (f *fieldFlags) String() string { return strings.Join(*f, ",") }

func (f *fieldFlags) Set(value string) error {
	*f = append(*f, value)

	return nil
}

func promptLine(sc *bufio.Scanner, label, current string) (string, bool) {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, current)
	} else {
		fmt.Printf("%s: ", label)
	}

	if !sc.Scan() {
		fmt.Println()

		return "", false
	}

	return strings.TrimSpace(sc.Text()), true
}

func isYes(s string) bool {
	return strings.EqualFold(s, "y") || strings.EqualFold(s, "yes")
}

func printFormState(f *form.Form) {
	fmt.Println("\nCurrent form:")
	fmt.Printf("  %-24s %s\n", "verification_method", valueOrDash(string(f.Method)))

	assets, liabilities := "-", "-"
	if f.DeclaredAssets != nil {
		assets = formatMoney(*f.DeclaredAssets)
	}

	if f.DeclaredLiabilities != nil {
		liabilities = formatMoney(*f.DeclaredLiabilities)
	}

	fmt.Printf("  %-24s %s\n", "declared_assets", assets)
	fmt.Printf("  %-24s %s\n", "declared_liabilities", liabilities)
	fmt.Printf("  %-24s %s\n", "net_worth", formatMoney(f.NetWorth()))

	docs := "(none)"
	if len(f.SupportingDocuments) > 0 {
		docs = strings.Join(f.SupportingDocuments, ", ")
	}

	fmt.Printf("  %-24s %s\n", "supporting_documents", docs)
	fmt.Printf("  %-24s %s\n", "signature_file", valueOrDash(f.SignatureFile))

	certified := "no"
	if f.CertificationChecked != nil && *f.CertificationChecked {
		certified = "yes"
	}

	fmt.Printf("  %-24s %s\n", "certification_checked", certified)
	fmt.Printf("  %-24s %s\n", "notes", valueOrDash(f.Notes))
}

// renderFieldDiffs prints one line per changed field with an inline
// old-to-new diff.
func renderFieldDiffs(out io.Writer, before, after map[string]any) {
	keys := make(map[string]struct{})
	for k := range before {
		keys[k] = struct{}{}
	}

	for k := range after {
		keys[k] = struct{}{}
	}

	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}

	sort.Strings(names)

	dmp := diffmatchpatch.New()
	changed := false

	for _, name := range names {
		oldV := formatFieldValue(before[name])
		newV := formatFieldValue(after[name])

		if oldV == newV {
			continue
		}

		changed = true

		diffs := dmp.DiffMain(oldV, newV, false)
		diffs = dmp.DiffCleanupSemantic(diffs)
		fmt.Fprintf(out, "  %s: %s\n", name, dmp.DiffPrettyText(diffs))
	}

	if !changed {
		fmt.Fprintln(out, "  no changes")
	}
}

func formatFieldValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "(unset)"
	case string:
		if val == "" {
			return "(unset)"
		}

		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []string:
		if len(val) == 0 {
			return "(none)"
		}

		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatFieldValue(item))
		}

		if len(parts) == 0 {
			return "(none)"
		}

		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
