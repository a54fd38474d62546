// Package notification emails administrators when customers are waiting and
// no staff member is connected to answer them.
package notification

import (
	"fmt"
	"html"
	"log/slog"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/real-rm/supportchat/internal/config"
	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/ratelimit"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/util"
	"github.com/real-rm/supportchat/internal/worker"
)

// alertQueueSize bounds the alerts waiting for the SMTP server
const alertQueueSize = 64

// Mailer sends email. *gomail.Dialer implements it.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// StaffCounter reports how many staff members are connected
type StaffCounter interface {
	StaffOnline() int
}

// Options configures a Service
type Options struct {
	From        string
	AdminEmails []string
	AdminURL    string        // console link; no link is rendered when empty
	Cooldown    time.Duration // per department
}

// NewDialer builds the SMTP dialer for cfg
func NewDialer(cfg config.NotificationConfig) *gomail.Dialer {
	return gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
}

// Service sends unattended-chat alerts
type Service struct {
	mailer      Mailer
	staff       StaffCounter
	opts        Options
	logger      *slog.Logger
	cooldown    *ratelimit.MessageLimiter
	queue       *worker.Queue[session.RoomView]
	unsubscribe func()
	now         func() time.Time
}

// NewService subscribes to new chat requests on bus. Call Stop to detach it.
func NewService(mailer Mailer, staff StaffCounter, bus *events.Bus, logger *slog.Logger, opts Options) *Service {
	if opts.Cooldown <= 0 {
		opts.Cooldown = constants.DefaultNotificationCooldown
	}
	s := &Service{
		mailer:   mailer,
		staff:    staff,
		opts:     opts,
		logger:   logger.With("component", "notification"),
		cooldown: ratelimit.NewMessageLimiter(opts.Cooldown, 1),
		now:      time.Now,
	}
	s.cooldown.StartCleanup()
	s.queue = worker.NewQueue("notification", alertQueueSize, s.logger, s.send)
	s.unsubscribe = events.Subscribe(bus, s.onRoomCreated)
	return s
}

// onRoomCreated runs under the room lock, so the email itself is queued
func (s *Service) onRoomCreated(e session.RoomCreated) {
	if len(s.opts.AdminEmails) == 0 || s.staff.StaffOnline() > 0 {
		return
	}

	key := "new_chat:" + e.Room.OrganizationID + ":" + e.Room.Department
	if !s.cooldown.Allow(key) {
		metrics.NotificationsSent.WithLabelValues("suppressed").Inc()
		s.logger.Debug("Unattended chat alert suppressed by cooldown",
			"room_id", e.Room.ID,
			"department", e.Room.Department)
		return
	}

	if !s.queue.Offer(e.Room) {
		metrics.NotificationsSent.WithLabelValues("dropped").Inc()
		s.logger.Warn("Notification queue full, alert dropped", "room_id", e.Room.ID)
	}
}

func (s *Service) send(room session.RoomView) {
	msg := s.buildMessage(room)
	if err := s.mailer.DialAndSend(msg); err != nil {
		metrics.NotificationsSent.WithLabelValues("failure").Inc()
		util.LogError(s.logger, "notification", "send unattended chat alert", err, "room_id", room.ID)
		return
	}
	metrics.NotificationsSent.WithLabelValues("success").Inc()
	s.logger.Info("Unattended chat alert sent",
		"room_id", room.ID,
		"department", room.Department,
		"recipients", len(s.opts.AdminEmails))
}

func (s *Service) buildMessage(room session.RoomView) *gomail.Message {
	department := room.Department
	if department == "" {
		department = "general"
	}
	customer := room.CustomerName
	if customer == "" {
		customer = room.CustomerID
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.opts.From)
	m.SetHeader("To", s.opts.AdminEmails...)
	m.SetHeader("Subject", fmt.Sprintf("Chat waiting with no agent online (%s)", department))
	m.SetBody("text/plain", fmt.Sprintf("Customer: %s, Department: %s, Room: %s, Time: %s",
		customer, department, room.ID, s.now().Format(time.RFC3339)))
	m.AddAlternative("text/html", buildWaitingChatHTML(customer, department, room.ID, s.opts.AdminURL, s.now()))
	return m
}

// buildWaitingChatHTML renders the alert body. Without adminURL no link is rendered.
func buildWaitingChatHTML(customer, department, roomID, adminURL string, at time.Time) string {
	safeRoomID := html.EscapeString(roomID)
	linkSection := "<p>Please sign in to the support console to answer this chat.</p>"
	if adminURL != "" {
		linkSection = fmt.Sprintf(`<p><a href="%s/%s">Open Chat</a></p>`, html.EscapeString(adminURL), safeRoomID)
	}
	return fmt.Sprintf(`
		<h2>Customer Waiting</h2>
		<p>A customer has requested a chat and no agent is online.</p>
		<ul>
			<li><strong>Customer:</strong> %s</li>
			<li><strong>Department:</strong> %s</li>
			<li><strong>Room ID:</strong> %s</li>
			<li><strong>Time:</strong> %s</li>
		</ul>
		%s
	`, html.EscapeString(customer), html.EscapeString(department), safeRoomID, at.Format(time.RFC3339), linkSection)
}

// Stop detaches from the bus and waits briefly for queued alerts
func (s *Service) Stop() {
	s.unsubscribe()
	ctx, cancel := util.NewTimeoutContext(constants.NotificationTimeout)
	defer cancel()
	if err := s.queue.Stop(ctx); err != nil {
		s.logger.Warn("Pending alerts not sent before shutdown", "pending", s.queue.Len(), "error", err)
	}
	s.cooldown.StopCleanup()
}
