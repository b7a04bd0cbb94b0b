package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Outcome is the overall result of a pass.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Action is a repair kind.
type Action string

const (
	ActionCancel   Action = "cancel_orphan"
	ActionCorrect  Action = "correct_drift"
	ActionCreate   Action = "create_missing"
	ActionSyncUser Action = "sync_user"
)

// Result is what happened to a single action.
type Result string

const (
	ResultApplied Result = "applied"
	ResultPlanned Result = "planned"
	ResultSkipped Result = "skipped"
	ResultFailed  Result = "failed"
)

// Skip reasons.
const (
	ReasonOwnerNotFound  = "owner_not_found"
	ReasonMissingPrice   = "missing_price"
	ReasonAlreadyExists  = "already_exists"
	ReasonSummaryGuarded = "summary_references_other_subscription"
)

// ActionResult records one repair attempt.
type ActionResult struct {
	Action         Action   `json:"action" yaml:"action"`
	SubscriptionID string   `json:"subscription_id" yaml:"subscription_id"`
	CustomerID     string   `json:"customer_id,omitempty" yaml:"customer_id,omitempty"`
	UserID         string   `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Fields         []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Result         Result   `json:"result" yaml:"result"`
	Reason         string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error          string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// PlanCounts summarizes a pass's inputs and plan.
type PlanCounts struct {
	Ledger     int `json:"ledger" yaml:"ledger"`
	Unresolved int `json:"unresolved" yaml:"unresolved"`
	Mirror     int `json:"mirror" yaml:"mirror"`
	Orphans    int `json:"orphans" yaml:"orphans"`
	Drifts     int `json:"drifts" yaml:"drifts"`
	Missing    int `json:"missing" yaml:"missing"`
	Unchanged  int `json:"unchanged" yaml:"unchanged"`
	Deferred   int `json:"deferred" yaml:"deferred"`
	Duplicates int `json:"duplicates" yaml:"duplicates"`
}

// Report describes one reconciliation pass.
type Report struct {
	RunID           string         `json:"run_id" yaml:"run_id"`
	Trigger         string         `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	DryRun          bool           `json:"dry_run" yaml:"dry_run"`
	StartedAt       time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time      `json:"finished_at" yaml:"finished_at"`
	DurationSeconds float64        `json:"duration_seconds" yaml:"duration_seconds"`
	Outcome         Outcome        `json:"outcome" yaml:"outcome"`
	Error           string         `json:"error,omitempty" yaml:"error,omitempty"`
	Plan            PlanCounts     `json:"plan" yaml:"plan"`
	Applied         int            `json:"applied" yaml:"applied"`
	Skipped         int            `json:"skipped" yaml:"skipped"`
	Failed          int            `json:"failed" yaml:"failed"`
	Actions         []ActionResult `json:"actions,omitempty" yaml:"actions,omitempty"`
}

func (r *Report) add(res ActionResult) {
	switch res.Result {
	case ResultApplied:
		r.Applied++
	case ResultSkipped:
		r.Skipped++
	case ResultFailed:
		r.Failed++
	}
	r.Actions = append(r.Actions, res)
}

func (r *Report) sortActions() {
	slices.SortStableFunc(r.Actions, func(a, b ActionResult) int {
		if c := strings.Compare(a.SubscriptionID, b.SubscriptionID); c != 0 {
			return c
		}
		return strings.Compare(string(a.Action), string(b.Action))
	})
}

// Count returns how many actions of kind ended with result.
func (r *Report) Count(kind Action, result Result) int {
	n := 0
	for _, a := range r.Actions {
		if a.Action == kind && a.Result == result {
			n++
		}
	}
	return n
}

func (r *Report) finish(now time.Time, err error) {
	r.FinishedAt = now
	r.DurationSeconds = now.Sub(r.StartedAt).Seconds()
	r.sortActions()
	switch {
	case err != nil:
		r.Outcome = OutcomeFailed
		r.Error = err.Error()
	case r.Failed > 0:
		r.Outcome = OutcomePartial
	default:
		r.Outcome = OutcomeSuccess
	}
}

// Format is a report encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "text", "json" or "yaml", case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Encode writes the report to w in format.
func (r *Report) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		return r.encodeText(w)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func (r *Report) encodeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	if r.Trigger != "" {
		fmt.Fprintf(tw, "trigger\t%s\n", r.Trigger)
	}
	fmt.Fprintf(tw, "outcome\t%s\n", r.Outcome)
	if r.DryRun {
		fmt.Fprintf(tw, "dry run\tyes\n")
	}
	if r.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", r.Error)
	}
	fmt.Fprintf(tw, "duration\t%s\n", time.Duration(r.DurationSeconds*float64(time.Second)).Round(time.Millisecond))
	fmt.Fprintf(tw, "ledger\t%d (unresolved %d)\n", r.Plan.Ledger, r.Plan.Unresolved)
	fmt.Fprintf(tw, "mirror\t%d\n", r.Plan.Mirror)
	fmt.Fprintf(tw, "plan\torphans %d, drifts %d, missing %d, unchanged %d, deferred %d\n",
		r.Plan.Orphans, r.Plan.Drifts, r.Plan.Missing, r.Plan.Unchanged, r.Plan.Deferred)
	fmt.Fprintf(tw, "result\tapplied %d, skipped %d, failed %d\n", r.Applied, r.Skipped, r.Failed)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Actions) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBSCRIPTION\tACTION\tRESULT\tDETAIL")
	for _, a := range r.Actions {
		detail := strings.Join(a.Fields, ",")
		if a.Reason != "" {
			detail = a.Reason
		}
		if a.Error != "" {
			detail = a.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.SubscriptionID, a.Action, a.Result, detail)
	}
	return tw.Flush()
}
