package handlers_test

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) StartRecorded(ctx context.Context, req services.StartRecordedRequest, media io.Reader) (*services.StartedSession, error) {
	var body string
	if media != nil {
		b, _ := io.ReadAll(media)
		body = string(b)
	}
	args := m.Called(ctx, req, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StartedSession), args.Error(1)
}

func (m *MockSessionService) Get(ctx context.Context, id string) (*entities.ProcedureSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ProcedureSession), args.Error(1)
}

func (m *MockSessionService) List(ctx context.Context, filter repositories.SessionFilter) ([]*entities.ProcedureSession, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.ProcedureSession), args.Error(1)
}

func (m *MockSessionService) Status(ctx context.Context, id string) (*services.SessionStatusView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SessionStatusView), args.Error(1)
}

func (m *MockSessionService) Abort(ctx context.Context, id string) (*entities.ProcedureSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ProcedureSession), args.Error(1)
}

func (m *MockSessionService) Frames(ctx context.Context, id string, skip, limit int) (*services.FramePage, error) {
	args := m.Called(ctx, id, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.FramePage), args.Error(1)
}

func (m *MockSessionService) Summary(ctx context.Context, id string) (*entities.SessionSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SessionSummary), args.Error(1)
}

func (m *MockSessionService) RequestExport(ctx context.Context, id string) (*services.ExportLink, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ExportLink), args.Error(1)
}

func (m *MockSessionService) SearchFindings(ctx context.Context, params providers.FindingSearchParams) ([]providers.IndexedFinding, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]providers.IndexedFinding), args.Error(1)
}

func (m *MockSessionService) TaskState(ctx context.Context, taskID string) (*entities.QueueTaskState, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.QueueTaskState), args.Error(1)
}

type MockLiveService struct {
	mock.Mock
}

func (m *MockLiveService) Start(ctx context.Context, req services.StartLiveRequest) (*entities.ProcedureSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ProcedureSession), args.Error(1)
}

func (m *MockLiveService) Active() []string {
	return m.Called().Get(0).([]string)
}

func (m *MockLiveService) Status(id string) (*services.LiveStatus, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LiveStatus), args.Error(1)
}

func (m *MockLiveService) PushFrame(ctx context.Context, id string, image io.Reader, timestampMS int64) (*entities.Frame, error) {
	b, _ := io.ReadAll(image)
	args := m.Called(ctx, id, string(b), timestampMS)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Frame), args.Error(1)
}

func (m *MockLiveService) AnalyzeNow(ctx context.Context, id string, image io.Reader, timestampMS int64) (*entities.AnalysisResult, error) {
	b, _ := io.ReadAll(image)
	args := m.Called(ctx, id, string(b), timestampMS)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.AnalysisResult), args.Error(1)
}

func (m *MockLiveService) StartCapture(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLiveService) StopCapture(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLiveService) Findings(id string) ([]entities.TimelineEntry, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.TimelineEntry), args.Error(1)
}

func (m *MockLiveService) ClearFindings(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockLiveService) Finalize(ctx context.Context, id, title string) (*entities.ProcedureSession, error) {
	args := m.Called(ctx, id, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ProcedureSession), args.Error(1)
}

type MockMessageHistory struct {
	mock.Mock
}

func (m *MockMessageHistory) Recent(ctx context.Context, sessionID string, n int) ([]*entities.ConversationMessage, error) {
	args := m.Called(ctx, sessionID, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.ConversationMessage), args.Error(1)
}
