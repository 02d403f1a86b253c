// Package jira is a read-only client for the Jira Cloud agile and search APIs.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-planning-poker/internal/domain"
)

const (
	serviceName  = "Jira"
	boardPage    = 50
	issuePage    = 50
	searchPage   = 100
	issueTimeout = 20 * time.Second

	// sprintDateSentinel sorts sprints with no usable date last.
	sprintDateSentinel = "9999-12-31"
)

type Board struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location struct {
		ProjectKey string `json:"projectKey"`
	} `json:"location"`
}

type Sprint struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	OriginBoardID int64  `json:"originBoardId"`
	StartDate     string `json:"startDate"`
	CreatedDate   string `json:"createdDate"`
}

// Issue is an importable backlog item.
type Issue struct {
	Key       string
	Summary   string
	BrowseURL string
	IssueType string
}

// Client talks to one Jira site with basic auth (account email + API token).
type Client struct {
	baseURL string
	email   string
	token   string
	timeout time.Duration
	http    *http.Client
}

func NewClient(s domain.JiraSettings, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(s.BaseURL, "/"),
		email:   s.Email,
		token:   s.Token,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// ListBoards returns every board of projectKey, following pagination.
func (c *Client) ListBoards(ctx context.Context, projectKey string) ([]Board, error) {
	var boards []Board
	startAt := 0
	for {
		var page struct {
			Values     []Board `json:"values"`
			MaxResults int     `json:"maxResults"`
			Total      int     `json:"total"`
			IsLast     bool    `json:"isLast"`
		}
		q := url.Values{
			"projectKeyOrId": {projectKey},
			"startAt":        {strconv.Itoa(startAt)},
			"maxResults":     {strconv.Itoa(boardPage)},
		}
		if err := c.get(ctx, c.timeout, "/rest/agile/1.0/board", q, &page); err != nil {
			return nil, err
		}
		boards = append(boards, page.Values...)
		if page.IsLast || page.MaxResults <= 0 || startAt+page.MaxResults >= page.Total {
			return boards, nil
		}
		startAt += page.MaxResults
	}
}

// PickBoard prefers the board located in projectKey, else the first one.
func PickBoard(boards []Board, projectKey string) (Board, bool) {
	if len(boards) == 0 {
		return Board{}, false
	}
	for _, b := range boards {
		if b.Location.ProjectKey == projectKey {
			return b, true
		}
	}
	return boards[0], true
}

func (c *Client) ListFutureSprints(ctx context.Context, boardID int64) ([]Sprint, error) {
	var page struct {
		Values []Sprint `json:"values"`
	}
	path := fmt.Sprintf("/rest/agile/1.0/board/%d/sprint", boardID)
	if err := c.get(ctx, c.timeout, path, url.Values{"state": {"future"}}, &page); err != nil {
		return nil, err
	}
	return page.Values, nil
}

// SelectNextSprint picks the upcoming sprint. Sprints created on boardID are
// preferred over shared ones; candidates are ordered by start date, then
// creation date, with undated sprints last.
func SelectNextSprint(sprints []Sprint, boardID int64) (Sprint, bool) {
	var scoped []Sprint
	for _, s := range sprints {
		if s.OriginBoardID == boardID {
			scoped = append(scoped, s)
		}
	}
	candidates := scoped
	if len(candidates) == 0 {
		candidates = append([]Sprint(nil), sprints...)
	}
	if len(candidates) == 0 {
		return Sprint{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return sprintSortKey(candidates[i]) < sprintSortKey(candidates[j])
	})
	return candidates[0], true
}

func sprintSortKey(s Sprint) string {
	switch {
	case s.StartDate != "":
		return s.StartDate
	case s.CreatedDate != "":
		return s.CreatedDate
	default:
		return sprintDateSentinel
	}
}

type rawIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary   string `json:"summary"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	} `json:"fields"`
}

type issuePageResp struct {
	Issues     []rawIssue `json:"issues"`
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
}

// ListSprintIssues returns the non-Epic issues of projectKey in a sprint.
// It uses a JQL search first; when that endpoint answers with an HTTP error
// it falls back to the agile sprint listing filtered by project here.
func (c *Client) ListSprintIssues(ctx context.Context, sprintID int64, projectKey string) ([]Issue, error) {
	issues, err := c.searchSprintIssues(ctx, sprintID, projectKey)
	var ext *domain.ExternalServiceError
	if errors.As(err, &ext) {
		slog.Warn("jira search failed, falling back to sprint listing", "sprint_id", sprintID, "status", ext.Status)
		return c.listSprintIssuesAgile(ctx, sprintID, projectKey)
	}
	return issues, err
}

// jqlString quotes s as a JQL string literal.
func jqlString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func (c *Client) searchSprintIssues(ctx context.Context, sprintID int64, projectKey string) ([]Issue, error) {
	jql := fmt.Sprintf(`project = %s AND sprint = %d`, jqlString(projectKey), sprintID)
	var out []Issue
	startAt := 0
	for {
		var page issuePageResp
		q := url.Values{
			"jql":        {jql},
			"fields":     {"summary,issuetype"},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(searchPage)},
		}
		if err := c.get(ctx, issueTimeout, "/rest/api/3/search", q, &page); err != nil {
			return nil, err
		}
		for _, it := range page.Issues {
			if iss, ok := c.toIssue(it); ok {
				out = append(out, iss)
			}
		}
		if page.MaxResults <= 0 || page.StartAt+page.MaxResults >= page.Total {
			return out, nil
		}
		startAt = page.StartAt + page.MaxResults
	}
}

func (c *Client) listSprintIssuesAgile(ctx context.Context, sprintID int64, projectKey string) ([]Issue, error) {
	var out []Issue
	path := fmt.Sprintf("/rest/agile/1.0/sprint/%d/issue", sprintID)
	startAt := 0
	for {
		var page issuePageResp
		q := url.Values{
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(issuePage)},
		}
		if err := c.get(ctx, issueTimeout, path, q, &page); err != nil {
			return nil, err
		}
		for _, it := range page.Issues {
			if it.Fields.Project.Key != projectKey {
				continue
			}
			if iss, ok := c.toIssue(it); ok {
				out = append(out, iss)
			}
		}
		if page.MaxResults <= 0 || startAt+page.MaxResults >= page.Total {
			return out, nil
		}
		startAt += page.MaxResults
	}
}

func (c *Client) toIssue(it rawIssue) (Issue, bool) {
	if domain.IsEpicType(it.Fields.IssueType.Name) {
		return Issue{}, false
	}
	browse := ""
	if it.Key != "" {
		browse = c.baseURL + "/browse/" + it.Key
	}
	return Issue{
		Key:       it.Key,
		Summary:   it.Fields.Summary,
		BrowseURL: browse,
		IssueType: it.Fields.IssueType.Name,
	}, true
}

// get issues an authenticated GET and decodes a JSON body into dst.
// Non-2xx responses become *domain.ExternalServiceError.
func (c *Client) get(ctx context.Context, timeout time.Duration, path string, q url.Values, dst any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build jira request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("jira request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NewExternalServiceError(serviceName, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode jira response %s: %w", path, err)
	}
	return nil
}
