package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-matcher/internal/processor"
	"resume-matcher/internal/storage"
	"resume-matcher/internal/types"
)

// MockDocumentService 记录最近一次提交
type MockDocumentService struct {
	submitErr  error
	profile    processor.ProfileView
	profileErr error

	gotData     []byte
	gotID       string
	gotFilename string
}

func (m *MockDocumentService) SubmitDocument(_ context.Context, data []byte, documentID, filename string) (processor.SubmitResult, error) {
	m.gotData, m.gotID, m.gotFilename = data, documentID, filename
	if documentID == "" {
		documentID = "generated-id"
	}
	if m.submitErr != nil {
		return processor.SubmitResult{DocumentID: documentID, Reason: "rejected"}, m.submitErr
	}
	return processor.SubmitResult{DocumentID: documentID, Accepted: true}, nil
}

func (m *MockDocumentService) GetProfile(_ context.Context, documentID string) (processor.ProfileView, error) {
	if m.profileErr != nil {
		return processor.ProfileView{}, m.profileErr
	}
	view := m.profile
	view.DocumentID = documentID
	return view, nil
}

// MockJobService 内存岗位表
type MockJobService struct {
	jobs      map[string]types.JobDescription
	createErr error
}

func (m *MockJobService) CreateJob(_ context.Context, job types.JobDescription) (types.JobDescription, error) {
	if m.createErr != nil {
		return types.JobDescription{}, m.createErr
	}
	if job.ID == "" {
		job.ID = "job-1"
	}
	if m.jobs == nil {
		m.jobs = map[string]types.JobDescription{}
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *MockJobService) GetJob(_ context.Context, jobID string) (types.JobDescription, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return types.JobDescription{}, types.NewStageError(types.StagePersist, jobID, "job not found", types.ErrNotFound)
	}
	return job, nil
}

// MockMatchService 返回预设结果并记录请求
type MockMatchService struct {
	score     types.MatchScore
	result    types.RankedResult
	err       error
	gotRank   processor.RankRequest
	gotWeight types.Weights
	gotLimit  int
	gotSearch processor.CriteriaSearchRequest
}

func (m *MockMatchService) Score(_ context.Context, candidateID, jobID string, w types.Weights) (types.MatchScore, error) {
	m.gotWeight = w
	s := m.score
	s.CandidateID, s.JobID = candidateID, jobID
	return s, m.err
}

func (m *MockMatchService) Rank(_ context.Context, req processor.RankRequest) (types.RankedResult, error) {
	m.gotRank = req
	return m.result, m.err
}

func (m *MockMatchService) SearchCandidates(_ context.Context, jobID string, limit int, w types.Weights) (types.RankedResult, error) {
	m.gotLimit, m.gotWeight = limit, w
	return m.result, m.err
}

func (m *MockMatchService) SearchByCriteria(_ context.Context, req processor.CriteriaSearchRequest) (types.RankedResult, error) {
	m.gotSearch = req
	return m.result, m.err
}

// MockHealth 固定的组件状态
type MockHealth map[string]string

func (m MockHealth) Ping(context.Context) map[string]string { return m }

type fixture struct {
	docs    *MockDocumentService
	jobs    *MockJobService
	matches *MockMatchService
	engine  *server.Hertz
}

func newFixture(health HealthChecker) *fixture {
	f := &fixture{
		docs:    &MockDocumentService{},
		jobs:    &MockJobService{},
		matches: &MockMatchService{},
	}
	hd := NewHandler(f.docs, f.jobs, f.matches, WithHealthChecker(health))
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	h.POST("/documents", hd.SubmitDocument)
	h.GET("/documents/:id/profile", hd.GetProfile)
	h.POST("/jobs", hd.CreateJob)
	h.GET("/jobs/:id", hd.GetJob)
	h.POST("/jobs/:id/rank", hd.RankCandidates)
	h.GET("/jobs/:id/candidates/:cid/score", hd.ScoreCandidate)
	h.GET("/jobs/:id/search", hd.SearchCandidates)
	h.GET("/candidates/search", hd.SearchByCriteria)
	h.GET("/health", hd.Health)
	f.engine = h
	return f
}

func multipartBody(t *testing.T, filename string, data []byte, documentID string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if documentID != "" {
		require.NoError(t, w.WriteField("document_id", documentID))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decode[T any](t *testing.T, resp *ut.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v), resp.Body.String())
	return v
}

func TestSubmitDocument(t *testing.T) {
	f := newFixture(nil)
	body, contentType := multipartBody(t, "cv.pdf", []byte("%PDF-1.4 data"), "doc-42")

	resp := ut.PerformRequest(f.engine.Engine, http.MethodPost, "/documents",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusAccepted, resp.Code)
	got := decode[SubmitDocumentResponse](t, resp)
	assert.True(t, got.Accepted)
	assert.Equal(t, "doc-42", got.DocumentID)
	assert.Equal(t, "cv.pdf", f.docs.gotFilename)
	assert.Equal(t, []byte("%PDF-1.4 data"), f.docs.gotData)
}

func TestSubmitDocument_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"empty", types.NewStageError(types.StageIngest, "d", "empty upload", types.ErrEmptyDocument), http.StatusUnprocessableEntity},
		{"unsupported", types.NewStageError(types.StageIngest, "d", "docx", types.ErrUnsupportedFormat), http.StatusUnprocessableEntity},
		{"duplicate", types.NewStageError(types.StageIngest, "d", "duplicate", types.ErrDuplicateDocument), http.StatusConflict},
		{"too large", types.NewStageError(types.StageIngest, "d", "too big", types.ErrDocumentTooLarge), http.StatusRequestEntityTooLarge},
		{"storage", types.NewStageError(types.StagePersist, "d", "create document failed", errors.New("db down")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(nil)
			f.docs.submitErr = tc.err
			body, contentType := multipartBody(t, "cv.pdf", []byte("x"), "")
			resp := ut.PerformRequest(f.engine.Engine, http.MethodPost, "/documents",
				&ut.Body{Body: body, Len: body.Len()},
				ut.Header{Key: "Content-Type", Value: contentType},
			)
			assert.Equal(t, tc.status, resp.Code)
			got := decode[SubmitDocumentResponse](t, resp)
			assert.False(t, got.Accepted)
			assert.NotEmpty(t, got.Stage, "错误响应包含阶段")
			assert.Equal(t, "generated-id", got.DocumentID)
		})
	}
}

func TestSubmitDocument_MissingFile(t *testing.T) {
	f := newFixture(nil)
	resp := ut.PerformRequest(f.engine.Engine, http.MethodPost, "/documents", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Nil(t, f.docs.gotData)
}

func TestGetProfile(t *testing.T) {
	f := newFixture(nil)
	f.docs.profile = processor.ProfileView{Status: "COMPLETED", Profile: &types.CandidateProfile{}}
	resp := ut.PerformRequest(f.engine.Engine, http.MethodGet, "/documents/doc-1/profile", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	view := decode[processor.ProfileView](t, resp)
	assert.Equal(t, "doc-1", view.DocumentID)
	assert.Equal(t, "COMPLETED", view.Status)

	f.docs.profileErr = types.NewStageError(types.StagePersist, "doc-2", "document not found", types.ErrNotFound)
	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/documents/doc-2/profile", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "persist", decode[ErrorResponse](t, resp).Stage)
}

func TestCreateAndGetJob(t *testing.T) {
	f := newFixture(nil)
	payload := []byte(`{"id":"job-7","title":"Backend","required_skills":["go"],"raw_text":"Go backend engineer"}`)
	resp := ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs",
		&ut.Body{Body: bytes.NewReader(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "job-7", decode[types.JobDescription](t, resp).ID)

	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/jobs/job-7", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"go"}, decode[types.JobDescription](t, resp).RequiredSkills)

	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	bad := []byte(`{"id":`)
	resp = ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs", &ut.Body{Body: bytes.NewReader(bad), Len: len(bad)})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	f.jobs.createErr = errors.Join(types.ErrInvalidRequest, errors.New("raw_text is required"))
	resp = ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs",
		&ut.Body{Body: bytes.NewReader(payload), Len: len(payload)})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRankCandidates(t *testing.T) {
	f := newFixture(nil)
	f.matches.result = types.RankedResult{JobID: "job-1", Ranked: []types.MatchScore{{CandidateID: "a", Overall: 0.8}}}

	payload := []byte(`{"job_id":"ignored","candidate_ids":["a","b"],"weights":{"skill_weight":0.6,"semantic_weight":0.2,"experience_weight":0.2},"limit":5}`)
	resp := ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs/job-1/rank",
		&ut.Body{Body: bytes.NewReader(payload), Len: len(payload)})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "job-1", f.matches.gotRank.JobID, "路径中的岗位ID优先")
	assert.Equal(t, []string{"a", "b"}, f.matches.gotRank.CandidateIDs)
	assert.Equal(t, 5, f.matches.gotRank.Limit)
	assert.Len(t, decode[types.RankedResult](t, resp).Ranked, 1)

	resp = ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs/job-1/rank", nil)
	require.Equal(t, http.StatusOK, resp.Code, "空请求体使用默认参数")
	assert.Empty(t, f.matches.gotRank.CandidateIDs)
}

func TestRankCandidates_ErrorMapping(t *testing.T) {
	f := newFixture(nil)

	f.matches.err = types.NewInvalidWeightsError("weights must sum to 1")
	resp := ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs/job-1/rank", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "score", decode[ErrorResponse](t, resp).Stage)

	f.matches.err = processor.ErrRankInProgress
	resp = ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs/job-1/rank", nil)
	assert.Equal(t, http.StatusConflict, resp.Code)

	f.matches.err = types.NewStageError(types.StageRank, "job-1", "list candidates failed", errors.New("conn reset"))
	resp = ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs/job-1/rank", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "rank", decode[ErrorResponse](t, resp).Stage)
}

func TestRankCandidates_BatchTimeoutReturnsPartial(t *testing.T) {
	f := newFixture(nil)
	f.matches.result = types.RankedResult{
		JobID:   "job-1",
		Ranked:  []types.MatchScore{{CandidateID: "a", Overall: 0.9}},
		Missing: []types.MissingCandidate{{CandidateID: "b", Reason: "timeout"}},
		Partial: true,
	}
	f.matches.err = types.NewBatchTimeoutError("job-1", 1)

	resp := ut.PerformRequest(f.engine.Engine, http.MethodPost, "/jobs/job-1/rank", nil)
	require.Equal(t, http.StatusPartialContent, resp.Code)
	got := decode[types.RankedResult](t, resp)
	assert.True(t, got.Partial)
	require.Len(t, got.Missing, 1)
	assert.Equal(t, "b", got.Missing[0].CandidateID)
}

func TestScoreCandidate(t *testing.T) {
	f := newFixture(nil)
	f.matches.score = types.MatchScore{Overall: 0.7, Explanation: []string{"skill overlap 0.8"}}

	resp := ut.PerformRequest(f.engine.Engine, http.MethodGet,
		"/jobs/job-1/candidates/cand-9/score?skill_weight=0.4&semantic_weight=0.4&experience_weight=0.2", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	got := decode[types.MatchScore](t, resp)
	assert.Equal(t, "cand-9", got.CandidateID)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, types.Weights{Skill: 0.4, Semantic: 0.4, Experience: 0.2}, f.matches.gotWeight)

	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/jobs/job-1/candidates/cand-9/score?skill_weight=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSearchCandidates(t *testing.T) {
	f := newFixture(nil)
	f.matches.result = types.RankedResult{JobID: "job-1"}

	resp := ut.PerformRequest(f.engine.Engine, http.MethodGet, "/jobs/job-1/search?limit=3", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 3, f.matches.gotLimit)
	assert.Equal(t, types.Weights{}, f.matches.gotWeight, "未提供权重时交给服务使用默认值")

	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/jobs/job-1/search?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	f.matches.err = storage.ErrVectorDBNotConfigured
	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/jobs/job-1/search", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestSearchByCriteria(t *testing.T) {
	f := newFixture(nil)

	resp := ut.PerformRequest(f.engine.Engine, http.MethodGet, "/candidates/search?skills=Go,%20SQL,,&experience=3.5&location=Berlin&limit=4", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, processor.CriteriaSearchRequest{
		Skills:          []string{"Go", "SQL"},
		ExperienceYears: 3.5,
		Location:        "Berlin",
		MinScore:        DefaultCriteriaMinScore,
		Limit:           4,
	}, f.matches.gotSearch)

	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/candidates/search?location=Paris&min_score=0", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0.0, f.matches.gotSearch.MinScore)
	assert.Nil(t, f.matches.gotSearch.Skills)

	for _, q := range []string{"experience=many", "min_score=high", "limit=-2"} {
		resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/candidates/search?skills=go&"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code, q)
	}

	f.matches.err = types.ErrInvalidRequest
	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/candidates/search", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code, "没有任何条件")
}

func TestHealth(t *testing.T) {
	f := newFixture(MockHealth{"mysql": "ok", "redis": "ok"})
	resp := ut.PerformRequest(f.engine.Engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	f = newFixture(MockHealth{"mysql": "ok", "redis": "dial tcp: connection refused"})
	resp = ut.PerformRequest(f.engine.Engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "connection refused")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(nil))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(types.NewUnreadableError("d", "corrupt xref")))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(types.NewEmptyDocumentError("d", "no text")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(types.NewCapabilityTimeoutError(types.StageEmbed, "d", "embed")))
}
