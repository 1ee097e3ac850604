// Package alerting 将关键故障推送到外部渠道。执行步骤失败与审计
// 落库失败都会生成事件，由派发器广播给已配置的通知器。
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "PolicyGate-Chain/internal/errors"
	"PolicyGate-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelEmail    Channel = "email"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event 描述一次需要告警的事件：执行步骤失败或审计记录无法落库。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Channel    Channel
	RunID      string
	MarketID   string
	Chain      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Headline 返回单行摘要，适合聊天类渠道。
func (e Event) Headline() string {
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
}

// Detail 返回多行正文，包含运行与市场上下文及附加元数据。
func (e Event) Detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "告警时间: %s\n运行: %s\n市场: %s\n目标链: %s\n错误码: %s\n描述: %s",
		e.OccurredAt.Format(time.RFC3339), e.RunID, e.MarketID, e.Chain, e.Code, e.Message)
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n详情:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, e.Metadata[k])
		}
	}
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 按渠道名顺序将事件投递给每个通知器，
// 单个渠道失败不影响其余渠道。
type FanoutDispatcher struct {
	order     []Channel
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，nil 通知器被忽略。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	d := &FanoutDispatcher{notifiers: make(map[Channel]Notifier, len(notifiers))}
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if _, seen := d.notifiers[n.Channel()]; !seen {
			d.order = append(d.order, n.Channel())
		}
		d.notifiers[n.Channel()] = n
	}
	return d
}

// Notify 实现 Dispatcher 接口。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, ch := range d.order {
		if err := d.notifiers[ch].Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把事件落到结构化日志，是无外部渠道时的兜底通知器。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 将事件以 Error 级别写入应用日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Named("alert").Error(event.Headline(),
		slog.String("run_id", event.RunID),
		slog.String("market_id", event.MarketID),
		slog.String("chain", event.Chain),
		slog.String("severity", string(event.Severity)),
	)
	return nil
}

// EmailSender 定义发送邮件所需的能力。
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier 通过邮件发送告警。
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

// Channel 返回邮件渠道。
func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify 发送邮件，未配置时跳过。
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("EmailNotifier 未正确配置，跳过发送", slog.String("market_id", event.MarketID))
		return nil
	}
	subject := n.SubjectPrefix + event.Headline()
	return n.Sender.Send(ctx, subject, event.Detail(), n.To)
}

// DingTalkSender 负责向钉钉机器人发送消息。
type DingTalkSender interface {
	Send(ctx context.Context, content string) error
}

// DingTalkNotifier 通过钉钉机器人发送告警。
type DingTalkNotifier struct {
	Sender DingTalkSender
}

// Channel 返回钉钉渠道。
func (n *DingTalkNotifier) Channel() Channel { return ChannelDingTalk }

// Notify 发送钉钉消息，未配置时跳过。
func (n *DingTalkNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("DingTalkNotifier 未正确配置，跳过发送", slog.String("market_id", event.MarketID))
		return nil
	}
	return n.Sender.Send(ctx, event.Headline()+"\n"+event.Detail())
}

// SlackSender 负责向 Slack 渠道发送消息。
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier 通过 Slack 发送告警。
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息，未配置时跳过。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("market_id", event.MarketID))
		return nil
	}
	content := fmt.Sprintf("*%s* (运行 %s, 市场 %s)", event.Headline(), event.RunID, event.MarketID)
	return n.Sender.Send(ctx, n.ChannelID, content)
}
