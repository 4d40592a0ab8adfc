// Package notify tells sellers when their payouts settle.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/events"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type EmailNotifier struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailNotifier(host string, port int, user string, pass string, from string) *EmailNotifier {
	return &EmailNotifier{dialer: gomail.NewDialer(host, port, user, pass), from: from}
}

func (n *EmailNotifier) Send(_ context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	return nil
}

// LogNotifier is used when no SMTP server is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Send(_ context.Context, msg Message) error {
	n.Logger.Info("notification", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

type Lookup interface {
	GetSellerFinance(ctx context.Context, sellerID string) (*domain.SellerFinance, error)
	GetPayout(ctx context.Context, id string) (*domain.Payout, error)
}

// Subscriber emails the seller when a payout completes or fails. Other
// events are ignored, as are sellers without an email address.
func Subscriber(lookup Lookup, notifier Notifier, logger *zap.Logger) events.Handler {
	return func(ctx context.Context, ev events.Event) {
		if ev.Kind != events.PayoutCompleted && ev.Kind != events.PayoutFailed {
			return
		}
		seller, err := lookup.GetSellerFinance(ctx, ev.SellerID)
		if err != nil {
			logger.Warn("notify: seller lookup failed", zap.String("seller_id", ev.SellerID), zap.Error(err))
			return
		}
		if strings.TrimSpace(seller.Email) == "" {
			return
		}
		payout, err := lookup.GetPayout(ctx, ev.EntityID)
		if err != nil {
			logger.Warn("notify: payout lookup failed", zap.String("payout_id", ev.EntityID), zap.Error(err))
			return
		}
		msg := payoutMessage(seller, payout, ev)
		if err := notifier.Send(ctx, msg); err != nil {
			logger.Warn("notify: send failed", zap.String("payout_id", payout.ID), zap.Error(err))
		}
	}
}

func payoutMessage(seller *domain.SellerFinance, p *domain.Payout, ev events.Event) Message {
	name := seller.Name
	if name == "" {
		name = seller.SellerID
	}
	if ev.Kind == events.PayoutFailed {
		return Message{
			To:      seller.Email,
			Subject: fmt.Sprintf("Payout %s failed", p.PayoutNumber),
			Body: fmt.Sprintf("Hello %s,\n\nPayout %s for %s could not be completed: %s.\nThe included commissions are available again and can be requested in a new payout.\n",
				name, p.PayoutNumber, p.TotalAmount.StringFixed(domain.MoneyScale), ev.Reason),
		}
	}
	return Message{
		To:      seller.Email,
		Subject: fmt.Sprintf("Payout %s completed", p.PayoutNumber),
		Body: fmt.Sprintf("Hello %s,\n\nPayout %s has been sent via %s.\nTotal: %s\nTransaction fee: %s\nNet amount: %s\n",
			name, p.PayoutNumber, p.PaymentMethod,
			p.TotalAmount.StringFixed(domain.MoneyScale),
			p.TransactionFee.StringFixed(domain.MoneyScale),
			p.NetAmount.StringFixed(domain.MoneyScale)),
	}
}
