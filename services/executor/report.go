package executor

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && len(c.To) > 0
}

var modeLabels = map[Mode]string{
	ModeKeep:     "保留",
	ModeSkip:     "跳过",
	ModeUpdate:   "修改",
	ModeRetire:   "下架",
	ModeRecreate: "重建",
	ModeCreate:   "新增",
}

// Text renders the report as a plain text summary, one line per
// operation that was not skipped.
func (r Report) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "成功 %d, 失败 %d, 跳过 %d\n", r.Success, r.Failed, r.Skipped)

	for _, res := range r.Results {
		if res.Status == StatusSkipped {
			continue
		}
		label := modeLabels[res.Mode]
		if label == "" {
			label = string(res.Mode)
		}
		fmt.Fprintf(&sb, "\n[%s] %s %s", res.Status, label, res.Draft.Title)
		if res.ProductID != "" {
			fmt.Fprintf(&sb, " (%s)", res.ProductID)
		}
		if res.NewProductID != "" {
			fmt.Fprintf(&sb, " -> %s", res.NewProductID)
		}
		if res.Draft.Price.IsPositive() {
			fmt.Fprintf(&sb, " %s", res.Draft.Price)
		}
		if res.Reason != "" {
			fmt.Fprintf(&sb, "\n    %s", res.Reason)
		}
		if res.Err != nil {
			fmt.Fprintf(&sb, "\n    错误: %s", res.Err)
		}
	}
	return sb.String()
}

// SendReport mails the report text to every configured recipient.
func SendReport(ctx context.Context, config SmtpConfig, subject string, report Report) error {
	ctx, span := tracer.Start(ctx, "SendReport")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Groupsync <%s>", config.EmailAddress)
	mail.To = config.To
	mail.Subject = subject
	mail.Text = []byte(report.Text())

	addr := fmt.Sprintf("%s:%d", config.Server, config.Port)
	err := mail.Send(addr, smtp.PlainAuth("", config.EmailAddress, config.Password, config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
