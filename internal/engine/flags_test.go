package engine

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]string
		want Flags
	}{
		{
			name: "defaults",
			raw:  nil,
			want: Flags{MockDomain: DefaultDomain},
		},
		{
			name: "everything set",
			raw: map[string]string{
				FlagMockDomain:             "Stage",
				FlagDeviceID:               " d1 ",
				FlagScenario:               "emptyCart",
				FlagDisableLiveEnvironment: "true",
				FlagDisableMockResponse:    "1",
				FlagShouldNotMock:          "TRUE",
			},
			want: Flags{
				MockDomain:             "Stage",
				DeviceID:               "d1",
				Scenario:               "emptyCart",
				DisableLiveEnvironment: true,
				DisableMockResponse:    true,
				ShouldNotMock:          true,
			},
		},
		{
			name: "unparseable booleans are false",
			raw:  map[string]string{FlagShouldNotMock: "yes", "unknown": "x"},
			want: Flags{MockDomain: DefaultDomain},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFlags(tt.raw, ""))
		})
	}

	assert.Equal(t, "Prod", ParseFlags(nil, "Prod").MockDomain)
}

func TestScenarios(t *testing.T) {
	s := NewScenarios()

	assert.ErrorIs(t, s.Add(" "), ErrEmptyScenario)
	require.NoError(t, s.Add("b"))
	require.NoError(t, s.Add("a"))
	require.NoError(t, s.Add("a"))
	assert.Equal(t, []string{"a", "b"}, s.List())

	assert.ErrorIs(t, s.Assign("d1", "missing"), ErrUnknownScenario)
	assert.Error(t, s.Assign("", "a"))
	require.NoError(t, s.Assign("d1", "a"))

	assert.Equal(t, "a", s.Resolve(Flags{DeviceID: "d1"}))
	assert.Equal(t, "b", s.Resolve(Flags{DeviceID: "d1", Scenario: "b"}), "the explicit flag wins")
	assert.Equal(t, "", s.Resolve(Flags{DeviceID: "d2"}))

	require.NoError(t, s.Assign("d1", ""))
	assert.Equal(t, "", s.Resolve(Flags{DeviceID: "d1"}))

	require.NoError(t, s.Assign("d1", "a"))
	s.Remove("a")
	assert.Equal(t, "", s.Resolve(Flags{DeviceID: "d1"}))
	assert.Equal(t, []string{"b"}, s.List())
}

func TestNopPluginsMockError(t *testing.T) {
	u, err := url.Parse("http://api.example.com/users?id=1")
	require.NoError(t, err)

	body := NopPlugins{}.MockError("Dev", Request{URL: u, Method: "GET"})
	assert.True(t, gjson.ValidBytes(body))
	assert.Equal(t, "mock not found", gjson.GetBytes(body, "error").String())
	assert.Equal(t, "Dev", gjson.GetBytes(body, "mockDomain").String())
	assert.Equal(t, "http://api.example.com/users?id=1", gjson.GetBytes(body, "url").String())
}

func TestRedactor(t *testing.T) {
	r := newRedactor([]string{"user.token", " ", "items.0.secret"}, []string{"Authorization"})

	body := r.body([]byte(`{"user":{"token":"t","name":"n"},"items":[{"secret":1}]}`))
	assert.JSONEq(t, `{"user":{"token":"[REDACTED]","name":"n"},"items":[{"secret":"[REDACTED]"}]}`, string(body))

	assert.Equal(t, "<xml/>", string(r.body([]byte("<xml/>"))))
	assert.Equal(t, `{"other":1}`, string(r.body([]byte(`{"other":1}`))))

	h := r.headers(map[string]string{"authorization": "x", "Accept": "y"})
	assert.Equal(t, map[string]string{"authorization": "[REDACTED]", "Accept": "y"}, h)

	none := newRedactor(nil, nil)
	assert.Equal(t, `{"a":1}`, string(none.body([]byte(`{"a":1}`))))
}

type countingJob struct {
	n *int
}

func (j countingJob) Do() { *j.n++ }

func TestWorkersRunEverySubmittedJob(t *testing.T) {
	w := StartWorkers(1, 4)
	n := 0
	for i := 0; i < 10; i++ {
		assert.True(t, w.Submit(context.Background(), countingJob{n: &n}))
	}
	w.Stop()
	w.Stop()
	assert.Equal(t, 10, n)

	full := StartWorkers(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := make(chan struct{})
	defer full.Stop()
	defer close(blocked)
	full.Submit(context.Background(), blockingJob(blocked))
	assert.False(t, full.Submit(ctx, countingJob{n: &n}))
}

type blockingJob chan struct{}

func (j blockingJob) Do() { <-j }
