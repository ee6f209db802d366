package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

type fakeAudit struct {
	mu   sync.Mutex
	rows []models.MessageLog
	err  error
}

func (f *fakeAudit) Append(_ context.Context, rec *models.MessageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, *rec)
	return nil
}

func (f *fakeAudit) ListByUser(_ context.Context, userID int64, _ int) ([]models.MessageLog, error) {
	var out []models.MessageLog
	for _, r := range f.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAudit) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	kept := f.rows[:0]
	var n int64
	for _, r := range f.rows {
		if r.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return n, nil
}

type fakeUsers struct {
	users map[int64]models.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &u, nil
}

func (f *fakeUsers) FamilyMembers(_ context.Context, familyID, exclude int64) ([]models.User, error) {
	var out []models.User
	for _, u := range f.users {
		if u.FamilyID != nil && *u.FamilyID == familyID && u.UserID != exclude {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.AlertEvent
}

func (f *fakePublisher) Publish(_ context.Context, _ int64, ev models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type mockSMS struct{ mock.Mock }

func (m *mockSMS) SendAlert(ctx context.Context, phone, name, riskLevel, timeStr string) bool {
	return m.Called(ctx, phone, name, riskLevel, timeStr).Bool(0)
}

func int64p(v int64) *int64 { return &v }

func familyFixture() *fakeUsers {
	return &fakeUsers{users: map[int64]models.User{
		1: {UserID: 1, Name: "Grandma Li", Phone: "13800000001", FamilyID: int64p(7), IsActive: true},
		2: {UserID: 2, Username: "son", Phone: "13800000002", FamilyID: int64p(7), IsActive: true},
		3: {UserID: 3, Username: "daughter", Phone: "13800000003", FamilyID: int64p(7), IsActive: true},
		4: {UserID: 4, Username: "loner", Phone: "13800000004", IsActive: true},
		5: {UserID: 5, Username: "other", Phone: "13800000005", FamilyID: int64p(8), IsActive: true},
	}}
}

func newTestService(audit *fakeAudit, users *fakeUsers, pub *fakePublisher, sms *mockSMS) *notificationService {
	log, _ := test.NewNullLogger()
	svc := NewNotificationService(audit, users, pub, sms, nil, log).(*notificationService)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 14, 5, 0, 0, time.UTC) }
	return svc
}

func TestHandle_CriticalEscalatesToFamily(t *testing.T) {
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	sms := &mockSMS{}
	sms.On("SendAlert", mock.Anything, mock.Anything, "Grandma Li", "critical", "14:05").Return(true)

	svc := newTestService(audit, familyFixture(), pub, sms)
	err := svc.Handle(context.Background(), Detection{
		CallID: 42, UserID: 1, Modality: models.ModalityText,
		IsRisk: true, Confidence: 0.97, RiskLevel: models.RiskCritical,
	})
	require.NoError(t, err)

	sms.AssertNumberOfCalls(t, "SendAlert", 2)
	sms.AssertCalled(t, "SendAlert", mock.Anything, "13800000002", "Grandma Li", "critical", "14:05")
	sms.AssertCalled(t, "SendAlert", mock.Anything, "13800000003", "Grandma Li", "critical", "14:05")

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventAlert, pub.events[0].Type)
	assert.Equal(t, models.DisplayPopup, pub.events[0].DisplayMode)
	assert.Equal(t, int64(42), pub.events[0].CallID)

	require.Len(t, audit.rows, 1)
	assert.Equal(t, models.EventAlert, audit.rows[0].Type)
	assert.Equal(t, "critical", audit.rows[0].RiskLevel)
}

func TestHandle_DisplayModeAndEscalationByLevel(t *testing.T) {
	cases := []struct {
		level   models.RiskLevel
		isRisk  bool
		display string
		typ     string
		sms     int
	}{
		{models.RiskSafe, false, models.DisplayToast, models.EventInfo, 0},
		{models.RiskLow, true, models.DisplayToast, models.EventAlert, 0},
		{models.RiskMedium, true, models.DisplayPopup, models.EventAlert, 2},
		{models.RiskHigh, true, models.DisplayPopup, models.EventAlert, 2},
		{models.RiskHigh, false, models.DisplayPopup, models.EventInfo, 0},
	}

	for _, tc := range cases {
		t.Run(string(tc.level), func(t *testing.T) {
			audit := &fakeAudit{}
			pub := &fakePublisher{}
			sms := &mockSMS{}
			sms.On("SendAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

			svc := newTestService(audit, familyFixture(), pub, sms)
			require.NoError(t, svc.Handle(context.Background(), Detection{
				CallID: 1, UserID: 1, Modality: models.ModalityText,
				IsRisk: tc.isRisk, Confidence: 0.7, RiskLevel: tc.level,
			}))

			require.Len(t, pub.events, 1)
			assert.Equal(t, tc.display, pub.events[0].DisplayMode)
			assert.Equal(t, tc.typ, pub.events[0].Type)
			sms.AssertNumberOfCalls(t, "SendAlert", tc.sms)
			assert.Len(t, audit.rows, 1)
		})
	}
}

func TestHandle_NoFamilyIsSilent(t *testing.T) {
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	sms := &mockSMS{}

	svc := newTestService(audit, familyFixture(), pub, sms)
	require.NoError(t, svc.Handle(context.Background(), Detection{
		CallID: 9, UserID: 4, Modality: models.ModalityText,
		IsRisk: true, Confidence: 0.95, RiskLevel: models.RiskCritical,
	}))

	sms.AssertNotCalled(t, "SendAlert")
	assert.Len(t, pub.events, 1)
}

func TestHandle_AuditFailureDoesNotStopDelivery(t *testing.T) {
	audit := &fakeAudit{err: errors.New("db down")}
	pub := &fakePublisher{}
	sms := &mockSMS{}
	sms.On("SendAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false)

	svc := newTestService(audit, familyFixture(), pub, sms)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Handle(context.Background(), Detection{
			CallID: 1, UserID: 1, Modality: models.ModalityText,
			IsRisk: true, Confidence: 0.8, RiskLevel: models.RiskHigh,
		}))
	}

	assert.Len(t, pub.events, 3)
	assert.Equal(t, int64(3), svc.auditFailures.Load())

	audit.err = nil
	require.NoError(t, svc.Handle(context.Background(), Detection{
		CallID: 1, UserID: 1, Modality: models.ModalityText, RiskLevel: models.RiskSafe,
	}))
	assert.Equal(t, int64(0), svc.auditFailures.Load())
}

func TestHandle_DeepfakeVideoEmitsUpgradeControl(t *testing.T) {
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	sms := &mockSMS{}
	sms.On("SendAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	svc := newTestService(audit, familyFixture(), pub, sms)
	require.NoError(t, svc.Handle(context.Background(), Detection{
		CallID: 3, UserID: 1, Modality: models.ModalityVideo,
		IsRisk: true, Confidence: 0.93, RiskLevel: models.RiskCritical,
	}))

	require.Len(t, pub.events, 2)
	ctrl := pub.events[1]
	assert.Equal(t, models.EventControl, ctrl.Type)
	assert.Equal(t, models.ActionUpgradeLevel, ctrl.Action)
	require.NotNil(t, ctrl.TargetLevel)
	assert.Equal(t, models.DefenseActive, *ctrl.TargetLevel)
	assert.Equal(t, true, ctrl.Config["show_blocking_warning"])

	// one audit row per decision, control events are not audited
	assert.Len(t, audit.rows, 1)
}

func TestHandle_RuleAlertKeepsMsgType(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(&fakeAudit{}, familyFixture(), pub, &mockSMS{})

	require.NoError(t, svc.Handle(context.Background(), Detection{
		CallID: 5, UserID: 4, Modality: models.ModalityText, MsgType: models.MsgTypeRule,
		IsRisk: true, Confidence: 1, RiskLevel: models.RiskLow,
	}))
	require.Len(t, pub.events, 1)
	assert.Equal(t, models.MsgTypeRule, pub.events[0].MsgType)
}

func TestHandle_TranscriptKeywordHitDoesNotUpgradeDefense(t *testing.T) {
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	sms := &mockSMS{}
	sms.On("SendAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	svc := newTestService(audit, familyFixture(), pub, sms)
	require.NoError(t, svc.Handle(context.Background(), Detection{
		CallID: 8, UserID: 1, Modality: models.ModalityAudio, MsgType: models.MsgTypeRule,
		IsRisk: true, Confidence: 1, RiskLevel: models.RiskMedium,
	}))

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventAlert, pub.events[0].Type)
	assert.Equal(t, models.MsgTypeRule, pub.events[0].MsgType)
	// still a family-level risk
	sms.AssertNumberOfCalls(t, "SendAlert", 2)
	assert.Len(t, audit.rows, 1)
}

func TestHandle_RejectsInvalidDetection(t *testing.T) {
	svc := newTestService(&fakeAudit{}, familyFixture(), &fakePublisher{}, &mockSMS{})
	err := svc.Handle(context.Background(), Detection{UserID: 1, Modality: "smell"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestPolicy_UnknownLevelFallsBackToSafe(t *testing.T) {
	esc := DefaultPolicy.For("bogus")
	assert.False(t, esc.NotifyFamily)
	assert.Equal(t, models.DisplayToast, esc.DisplayMode)
	assert.True(t, DefaultPolicy.Elevated(models.RiskMedium))
	assert.False(t, DefaultPolicy.Elevated(models.RiskLow))
}
