// Package cihook connects Greenlight to GitHub: failed cycles are filed as
// issues in the configured repository, and worker-reported workflow run ids
// are resolved to browsable run URLs.
package cihook

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/verdantqa/greenlight/internal/alert"
	"golang.org/x/oauth2"
)

// issuesService abstracts the go-github issues API for tests.
type issuesService interface {
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
}

// actionsService abstracts the go-github actions API for tests.
type actionsService interface {
	GetWorkflowRunByID(ctx context.Context, owner, repo string, runID int64) (*github.WorkflowRun, *github.Response, error)
}

// Hook files issues for failed cycles and resolves workflow run links.
// It plugs into the alert dispatcher as the "github" alerter.
type Hook struct {
	owner   string
	repo    string
	issues  issuesService
	actions actionsService
}

// Opts holds parameters for creating a Hook.
type Opts struct {
	Token string
	Owner string
	Repo  string
	// For testing: inject mock services instead of the real API.
	Issues  issuesService
	Actions actionsService
}

// New creates a Hook. With no injected services a token-authenticated
// client is built.
func New(opts Opts) (*Hook, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("cihook: owner and repo are required")
	}
	h := &Hook{owner: opts.Owner, repo: opts.Repo, issues: opts.Issues, actions: opts.Actions}
	if h.issues == nil || h.actions == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("cihook: token is required")
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		client := github.NewClient(oauth2.NewClient(context.Background(), ts))
		if h.issues == nil {
			h.issues = client.Issues
		}
		if h.actions == nil {
			h.actions = client.Actions
		}
	}
	return h, nil
}

// Name implements alert.Alerter.
func (h *Hook) Name() string { return "github" }

// Send implements alert.Alerter: error-severity completions become issues,
// everything else is ignored. The message channel, when set by a per-org
// integration, overrides the repository as "owner/repo".
func (h *Hook) Send(ctx context.Context, msg alert.Message) error {
	if msg.Severity != alert.SeverityError {
		return nil
	}

	owner, repo := h.owner, h.repo
	if msg.Channel != "" {
		parts := strings.SplitN(msg.Channel, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("cihook: bad repository %q, want owner/repo", msg.Channel)
		}
		owner, repo = parts[0], parts[1]
	}

	var body strings.Builder
	body.WriteString(msg.Body)
	for _, f := range msg.Fields {
		fmt.Fprintf(&body, "\n- **%s**: %s", f.Name, f.Value)
	}

	req := &github.IssueRequest{
		Title:  github.Ptr(msg.Title),
		Body:   github.Ptr(body.String()),
		Labels: &[]string{"test-failure", "greenlight"},
	}
	if _, _, err := h.issues.Create(ctx, owner, repo, req); err != nil {
		return fmt.Errorf("cihook: create issue in %s/%s: %w", owner, repo, err)
	}
	return nil
}

// Close implements alert.Alerter.
func (h *Hook) Close() error { return nil }

// RunURL resolves a workflow run id to its HTML URL.
func (h *Hook) RunURL(ctx context.Context, runID int64) (string, error) {
	run, _, err := h.actions.GetWorkflowRunByID(ctx, h.owner, h.repo, runID)
	if err != nil {
		return "", fmt.Errorf("cihook: workflow run %d: %w", runID, err)
	}
	return run.GetHTMLURL(), nil
}
