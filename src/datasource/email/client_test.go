package email

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"SiniestralidadVial/src/storage"
)

// MockMailService is a mock implementation of the MailService interface.
type MockMailService struct {
	mock.Mock
}

func (m *MockMailService) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMailService) Disconnect() {
	m.Called()
}

func (m *MockMailService) FetchUnreadEmails() ([]*Email, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Email), args.Error(1)
}

func newTestLogger(t *testing.T) *storage.Logger {
	t.Helper()
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "mail.log"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestCheckAndProcessEmailsPicksLatestMatch(t *testing.T) {
	day := time.Date(2025, 11, 9, 8, 0, 0, 0, time.UTC)
	emails := []*Email{
		{UID: 1, Subject: "SECTORES_CRITICOS octubre", Date: day.Add(-24 * time.Hour)},
		{UID: 2, Subject: "Boletín semanal", Date: day.Add(time.Hour)},
		{UID: 3, Subject: "RE: SECTORES_CRITICOS noviembre", Date: day},
	}

	svc := new(MockMailService)
	svc.On("Connect").Return(nil)
	svc.On("FetchUnreadEmails").Return(emails, nil)
	svc.On("Disconnect").Return()

	got, err := CheckAndProcessEmails(svc, "SECTORES_CRITICOS", newTestLogger(t))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint32(3), got.UID)
	svc.AssertExpectations(t)
}

func TestCheckAndProcessEmailsNoMatch(t *testing.T) {
	svc := new(MockMailService)
	svc.On("Connect").Return(nil)
	svc.On("FetchUnreadEmails").Return([]*Email{{UID: 9, Subject: "otro"}}, nil)
	svc.On("Disconnect").Return()

	got, err := CheckAndProcessEmails(svc, "SECTORES_CRITICOS", newTestLogger(t))
	require.NoError(t, err)
	assert.Nil(t, got)
	svc.AssertExpectations(t)
}

func TestCheckAndProcessEmailsConnectError(t *testing.T) {
	svc := new(MockMailService)
	svc.On("Connect").Return(errors.New("timeout"))

	got, err := CheckAndProcessEmails(svc, "SECTORES_CRITICOS", newTestLogger(t))
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "timeout")
	svc.AssertNotCalled(t, "FetchUnreadEmails")
	svc.AssertNotCalled(t, "Disconnect")
}

func TestCheckAndProcessEmailsFetchError(t *testing.T) {
	svc := new(MockMailService)
	svc.On("Connect").Return(nil)
	svc.On("FetchUnreadEmails").Return(nil, errors.New("BAD"))
	svc.On("Disconnect").Return()

	_, err := CheckAndProcessEmails(svc, "SECTORES_CRITICOS", newTestLogger(t))
	require.Error(t, err)
	svc.AssertCalled(t, "Disconnect")
}

func TestFilterLatestTargetEmail(t *testing.T) {
	assert.Nil(t, filterLatestTargetEmail(nil, "x"))

	older := &Email{UID: 1, Subject: "datos", Date: time.Unix(100, 0)}
	newer := &Email{UID: 2, Subject: "datos", Date: time.Unix(200, 0)}
	assert.Same(t, newer, filterLatestTargetEmail([]*Email{older, newer}, "datos"))
}

func TestParseMessage(t *testing.T) {
	csv := "Municipio,Fallecidos\nCali,9\n"
	raw := strings.Join([]string{
		"From: Datos Abiertos <datos@example.com>",
		"To: etl@example.com",
		"Subject: =?windows-1252?Q?SECTORES=5FCRITICOS_actualizaci=F3n?=",
		"Date: Mon, 10 Nov 2025 10:00:00 -0500",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="frontera"`,
		"",
		"--frontera",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Adjunto el archivo.",
		"--frontera",
		"Content-Type: text/csv",
		`Content-Disposition: attachment; filename="sectores.csv"`,
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString([]byte(csv)),
		"--frontera--",
		"",
	}, "\r\n")

	email, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "SECTORES_CRITICOS actualización", email.Subject)
	assert.Contains(t, email.From, "datos@example.com")
	assert.Equal(t, 2025, email.Date.Year())
	require.Len(t, email.Attachments, 1)
	assert.Equal(t, "sectores.csv", email.Attachments[0].Filename)
	assert.Equal(t, csv, string(email.Attachments[0].Content))
}

func TestDecodeHeaderLatin(t *testing.T) {
	assert.Equal(t, "Año", decodeHeader("=?iso-8859-15?Q?A=F1o?="))
	assert.Equal(t, "sin codificar", decodeHeader("sin codificar"))
}
