package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
	"kepsekreport/internal/report"
)

// HTTPStore talks to the dashboard API over JSON HTTP. It satisfies Store.
type HTTPStore struct {
	client *resty.Client
}

var _ Store = (*HTTPStore)(nil)

// NewHTTPStore builds a client for the API at baseURL authenticated with the
// given bearer token. Idempotent GETs are retried a small fixed number of
// times on transient failures; writes are never retried automatically.
func NewHTTPStore(baseURL, token string) *HTTPStore {
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r != nil && r.Request != nil && r.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})
	return &HTTPStore{client: c}
}

type apiError struct {
	Error string `json:"error"`
}

// mapError folds transport failures and HTTP status codes into the package's
// error taxonomy.
func mapError(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		msg = e.Error
	}
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, msg)
	}
}

func (s *HTTPStore) GetReport(ctx context.Context, principal string, day daykey.DayKey) (option.Option[report.Record], error) {
	var rec report.Record
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&rec).
		SetError(&apiError{}).
		Get(fmt.Sprintf("/v1/reports/%s/%d", principal, int64(day)))
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return option.None[report.Record](), nil
	}
	if err := mapError("get report", resp, err); err != nil {
		return option.None[report.Record](), err
	}
	return option.Some(rec), nil
}

func (s *HTTPStore) SaveReport(ctx context.Context, rec report.Record) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(rec).
		SetError(&apiError{}).
		Put("/v1/reports")
	return mapError("save report", resp, err)
}

func (s *HTTPStore) GetSchool(ctx context.Context, principal string) (option.Option[report.School], error) {
	var sch report.School
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&sch).
		SetError(&apiError{}).
		Get("/v1/schools/" + principal)
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return option.None[report.School](), nil
	}
	if err := mapError("get school", resp, err); err != nil {
		return option.None[report.School](), err
	}
	return option.Some(sch), nil
}

func (s *HTTPStore) SaveSchool(ctx context.Context, sch report.School) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sch).
		SetError(&apiError{}).
		Put("/v1/me/school")
	return mapError("save school", resp, err)
}

func (s *HTTPStore) SaveSchoolForPrincipal(ctx context.Context, principal string, sch report.School) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sch).
		SetError(&apiError{}).
		Put("/v1/schools/" + principal)
	return mapError("save school for principal", resp, err)
}

func (s *HTTPStore) RosterForDate(ctx context.Context, day daykey.DayKey) ([]report.RosterRow, error) {
	var rows []report.RosterRow
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&rows).
		SetError(&apiError{}).
		Get(fmt.Sprintf("/v1/roster/%d", int64(day)))
	if err := mapError("get roster", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *HTTPStore) ReportsRankedForDate(ctx context.Context, day daykey.DayKey) ([]report.RankedReport, error) {
	var ranked []report.RankedReport
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&ranked).
		SetError(&apiError{}).
		Get(fmt.Sprintf("/v1/roster/%d/ranked", int64(day)))
	if err := mapError("get ranked reports", resp, err); err != nil {
		return nil, err
	}
	return ranked, nil
}

func (s *HTTPStore) ActiveSchoolsCount(ctx context.Context) (int, error) {
	var body struct {
		Count int `json:"count"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&apiError{}).
		Get("/v1/active-schools/count")
	if err := mapError("get active schools count", resp, err); err != nil {
		return 0, err
	}
	return body.Count, nil
}

func (s *HTTPStore) ActiveSchoolsList(ctx context.Context) ([]report.SchoolSummary, error) {
	var list []report.SchoolSummary
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&list).
		SetError(&apiError{}).
		Get("/v1/active-schools")
	if err := mapError("get active schools", resp, err); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *HTTPStore) CallerRole(ctx context.Context) (report.Role, error) {
	var body struct {
		Role report.Role `json:"role"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&apiError{}).
		Get("/v1/me/role")
	if err := mapError("get caller role", resp, err); err != nil {
		return report.RoleGuest, err
	}
	if !body.Role.Valid() {
		return report.RoleGuest, nil
	}
	return body.Role, nil
}

func (s *HTTPStore) AssignRole(ctx context.Context, principal string, role report.Role) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"principal": principal, "role": string(role)}).
		SetError(&apiError{}).
		Post("/v1/roles")
	return mapError("assign role", resp, err)
}

func (s *HTTPStore) CallerProfile(ctx context.Context) (option.Option[report.Profile], error) {
	var p report.Profile
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&p).
		SetError(&apiError{}).
		Get("/v1/me/profile")
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return option.None[report.Profile](), nil
	}
	if err := mapError("get profile", resp, err); err != nil {
		return option.None[report.Profile](), err
	}
	return option.Some(p), nil
}

func (s *HTTPStore) SaveCallerProfile(ctx context.Context, name, email string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name, "email": email}).
		SetError(&apiError{}).
		Put("/v1/me/profile")
	return mapError("save profile", resp, err)
}
