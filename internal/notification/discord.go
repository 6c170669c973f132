package notification

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"reconflow/internal/models"
	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/parsers"
)

type Message struct {
	Title       string
	Description string
	Severity    string
	Fields      map[string]string
	Timestamp   time.Time
}

type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

type NotificationClient struct {
	sg        embedSender
	channelID string
}

// NewNotificationClient returns ErrNotifierDisabled when no token is
// configured. Messages go through the REST API, so no gateway connection is
// opened.
func NewNotificationClient(token, channelID string) (*NotificationClient, error) {
	if token == "" {
		return nil, apperrors.ErrNotifierDisabled
	}
	if channelID == "" {
		return nil, apperrors.NewConfigError("notifications.discord.channel_id", "", "required when a token is set")
	}

	sg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	return &NotificationClient{sg: sg, channelID: channelID}, nil
}

func (c *NotificationClient) getSeverityColor(severity string) int {
	switch severity {
	case "critical":
		return 0x8B0000
	case "high":
		return 0xFF0000
	case "medium":
		return 0xFF8C00
	case "low":
		return 0xFFD700
	case "info":
		return 0x00BFFF
	case "success":
		return 0x2E8B57
	default:
		return 0x808080
	}
}

func (c *NotificationClient) Send(msg Message) error {
	if c == nil || c.sg == nil {
		return fmt.Errorf("Discord client not initialized")
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       c.getSeverityColor(msg.Severity),
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
	}

	if len(msg.Fields) > 0 {
		keys := make([]string, 0, len(msg.Fields))
		for key := range msg.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fields := make([]*discordgo.MessageEmbedField, 0, len(keys))
		for _, key := range keys {
			fields = append(fields, &discordgo.MessageEmbedField{
				Name:   key,
				Value:  msg.Fields[key],
				Inline: true,
			})
		}
		embed.Fields = fields
	}

	_, err := c.sg.ChannelMessageSendEmbed(c.channelID, embed)
	return err
}

// NotifyJobFinished posts a summary of a completed pipeline run.
func (c *NotificationClient) NotifyJobFinished(ctx context.Context, job models.ScanJob, subdomains, alive, ports int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Send(Message{
		Title:       fmt.Sprintf("Recon finished for %s", job.Domain),
		Description: fmt.Sprintf("Job %d completed.", job.ID),
		Severity:    "success",
		Fields: map[string]string{
			"Subdomains": strconv.Itoa(subdomains),
			"HTTP alive": strconv.Itoa(alive),
			"Open ports": strconv.Itoa(ports),
		},
	})
}

// NotifyFindings posts per-category and per-severity counts for one
// vulnerability scan, coloured by the most severe finding.
func (c *NotificationClient) NotifyFindings(ctx context.Context, subdomain models.Subdomain, findings []models.Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(findings) == 0 {
		return nil
	}

	raw := make([]string, 0, len(findings))
	byCategory := make(map[models.Category]int)
	for _, f := range findings {
		raw = append(raw, f.Raw)
		byCategory[f.Category]++
	}

	severity := parsers.HighestSeverity(raw)
	bySeverity := parsers.CountBySeverity(raw)

	var breakdown []string
	for _, s := range parsers.Severities(bySeverity) {
		breakdown = append(breakdown, fmt.Sprintf("%s %s: %d", parsers.GetSeverityEmoji(s), s, bySeverity[s]))
	}

	fields := make(map[string]string, len(byCategory))
	for category, n := range byCategory {
		fields[string(category)] = strconv.Itoa(n)
	}

	return c.Send(Message{
		Title:       fmt.Sprintf("%s %d findings on %s", parsers.GetSeverityEmoji(severity), len(findings), subdomain.Name),
		Description: strings.Join(breakdown, "\n"),
		Severity:    severity,
		Fields:      fields,
	})
}

func (c *NotificationClient) Close() error {
	if c != nil && c.sg != nil {
		return c.sg.Close()
	}
	return nil
}
