package email_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/notifier/pkg/channel"
	"github.com/taskhive/notifier/pkg/channel/email"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func staticResolver(address string) email.AddressResolver {
	return email.AddressResolverFunc(func(ctx context.Context, userID string) (string, error) {
		return address, nil
	})
}

func failingResolver(err error) email.AddressResolver {
	return email.AddressResolverFunc(func(ctx context.Context, userID string) (string, error) {
		return "", err
	})
}

func TestNewChannel(t *testing.T) {
	t.Parallel()

	t.Run("requires a sender", func(t *testing.T) {
		t.Parallel()

		_, err := email.NewChannel(nil, staticResolver("user@example.com"))
		require.ErrorIs(t, err, email.ErrInvalidConfig)
	})

	t.Run("requires a resolver", func(t *testing.T) {
		t.Parallel()

		_, err := email.NewChannel(&mockSender{}, nil)
		require.ErrorIs(t, err, email.ErrInvalidConfig)
	})

	t.Run("channel name", func(t *testing.T) {
		t.Parallel()

		ch, err := email.NewChannel(&mockSender{}, staticResolver("user@example.com"))
		require.NoError(t, err)
		assert.Equal(t, "email", ch.Name())
	})
}

func TestChannel_Send(t *testing.T) {
	t.Parallel()

	t.Run("delivers to resolved address", func(t *testing.T) {
		t.Parallel()

		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return p.SendTo == "user@example.com" && p.Subject == "Task assigned"
		})).Return(nil).Once()

		ch, err := email.NewChannel(sender, staticResolver("user@example.com"))
		require.NoError(t, err)

		err = ch.Send(context.Background(), "user-1", channel.Payload{
			Title:   "Task assigned",
			Message: "You were assigned to Fix login bug.",
		}, "corr-1")
		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("metadata address overrides the resolver", func(t *testing.T) {
		t.Parallel()

		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return p.SendTo == "override@example.com"
		})).Return(nil).Once()

		ch, err := email.NewChannel(sender, staticResolver("onfile@example.com"))
		require.NoError(t, err)

		err = ch.Send(context.Background(), "user-1", channel.Payload{
			Title:    "Reminder",
			Message:  "Task due tomorrow.",
			Metadata: map[string]string{email.MetadataAddressKey: "override@example.com"},
		}, "corr-2")
		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("invalid address fails before the provider is contacted", func(t *testing.T) {
		t.Parallel()

		sender := &mockSender{}
		ch, err := email.NewChannel(sender, staticResolver("not-an-address"))
		require.NoError(t, err)

		err = ch.Send(context.Background(), "user-1", channel.Payload{
			Title:   "Reminder",
			Message: "Task due tomorrow.",
		}, "corr-3")
		require.ErrorIs(t, err, channel.ErrInvalidRecipient)
		sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("resolver failure is an invalid recipient", func(t *testing.T) {
		t.Parallel()

		sender := &mockSender{}
		ch, err := email.NewChannel(sender, failingResolver(errors.New("user has no email")))
		require.NoError(t, err)

		err = ch.Send(context.Background(), "user-1", channel.Payload{
			Title:   "Reminder",
			Message: "Task due tomorrow.",
		}, "corr-4")
		require.ErrorIs(t, err, channel.ErrInvalidRecipient)
	})

	t.Run("provider failure maps to send failed", func(t *testing.T) {
		t.Parallel()

		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).Return(errors.New("postmark: 500")).Once()

		ch, err := email.NewChannel(sender, staticResolver("user@example.com"))
		require.NoError(t, err)

		err = ch.Send(context.Background(), "user-1", channel.Payload{
			Title:   "Reminder",
			Message: "Task due tomorrow.",
		}, "corr-5")
		require.ErrorIs(t, err, channel.ErrSendFailed)
	})

	t.Run("sanitizes script tags out of the content", func(t *testing.T) {
		t.Parallel()

		var sent email.SendEmailParams
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(email.SendEmailParams) }).
			Return(nil).Once()

		ch, err := email.NewChannel(sender, staticResolver("user@example.com"))
		require.NoError(t, err)

		err = ch.Send(context.Background(), "user-1", channel.Payload{
			Title:   "Hello <script>alert(1)</script>",
			Message: "New <b>comment</b> <script>steal()</script>on your task",
		}, "corr-6")
		require.NoError(t, err)

		assert.NotContains(t, sent.Subject, "<script>")
		assert.NotContains(t, sent.BodyHTML, "<script>")
		assert.Contains(t, sent.BodyHTML, "<b>comment</b>")
	})

	t.Run("outbound rate limit", func(t *testing.T) {
		t.Parallel()

		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).Return(nil)

		// Burst of 2 with a negligible refill rate: the third send must be
		// refused locally.
		ch, err := email.NewChannel(sender, staticResolver("user@example.com"),
			email.WithSendRate(0.001, 2))
		require.NoError(t, err)

		payload := channel.Payload{Title: "Reminder", Message: "Task due."}
		require.NoError(t, ch.Send(context.Background(), "user-1", payload, "corr-7"))
		require.NoError(t, ch.Send(context.Background(), "user-1", payload, "corr-8"))

		err = ch.Send(context.Background(), "user-1", payload, "corr-9")
		require.ErrorIs(t, err, channel.ErrSendRateLimited)
		sender.AssertNumberOfCalls(t, "SendEmail", 2)
	})

	t.Run("circuit opens after repeated provider failures", func(t *testing.T) {
		t.Parallel()

		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).Return(errors.New("postmark: down"))

		ch, err := email.NewChannel(sender, staticResolver("user@example.com"),
			email.WithBreakerConfig(email.BreakerConfig{
				MaxRequests:      1,
				Interval:         0,
				Timeout:          time.Hour,
				FailureThreshold: 0.5,
				MinRequests:      3,
			}))
		require.NoError(t, err)

		payload := channel.Payload{Title: "Reminder", Message: "Task due."}
		for i := 0; i < 3; i++ {
			err = ch.Send(context.Background(), "user-1", payload, "corr")
			require.ErrorIs(t, err, channel.ErrSendFailed)
		}

		// Circuit is now open: the provider is no longer contacted.
		err = ch.Send(context.Background(), "user-1", payload, "corr")
		require.ErrorIs(t, err, channel.ErrCircuitOpen)
		sender.AssertNumberOfCalls(t, "SendEmail", 3)
	})
}

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	valid := email.SendEmailParams{
		SendTo:   "user@example.com",
		Subject:  "Hello",
		BodyHTML: "<p>Hi</p>",
	}
	require.NoError(t, valid.Validate())

	t.Run("missing recipient", func(t *testing.T) {
		t.Parallel()

		p := valid
		p.SendTo = ""
		require.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})

	t.Run("malformed recipient", func(t *testing.T) {
		t.Parallel()

		p := valid
		p.SendTo = "user@@example"
		require.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()

		p := valid
		p.Subject = ""
		require.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})

	t.Run("missing body", func(t *testing.T) {
		t.Parallel()

		p := valid
		p.BodyHTML = ""
		require.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})
}

func TestValidAddress(t *testing.T) {
	t.Parallel()

	assert.True(t, email.ValidAddress("user@example.com"))
	assert.True(t, email.ValidAddress("first.last+tag@sub.example.co"))
	assert.False(t, email.ValidAddress(""))
	assert.False(t, email.ValidAddress("plain"))
	assert.False(t, email.ValidAddress("user@"))
	assert.False(t, email.ValidAddress("@example.com"))
	assert.False(t, email.ValidAddress("user@example"))
}
