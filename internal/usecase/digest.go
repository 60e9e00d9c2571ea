package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"AIFlash/internal/domain"
	"AIFlash/internal/ports"
)

// FormatDigest renders a brief as plain text for chat delivery.
func FormatDigest(brief Brief) string {
	if len(brief.Cards) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "AIFlash brief (%s, %d items)\n\n", brief.Window, len(brief.Cards))
	for _, card := range brief.Cards {
		b.WriteString(formatDigestCard(card))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatDigestCard(card domain.Card) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s [%s]\n", card.Title, card.Source)
	if card.Score > 0 {
		fmt.Fprintf(&b, "Score: %.2f\n", card.Score)
	}
	b.WriteString(card.TLDR)
	b.WriteString("\n")
	if len(card.Badges) > 0 {
		b.WriteString(strings.Join(card.Badges, " "))
		b.WriteString("\n")
	}
	if link := primaryLink(card); link != "" {
		b.WriteString(link)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func primaryLink(card domain.Card) string {
	for _, ref := range card.References {
		if ref.Label == sourceLabel {
			return ref.URL
		}
	}
	if len(card.References) > 0 {
		return card.References[0].URL
	}
	return ""
}

// PublishBrief sends the formatted brief through the notifier. An empty brief is not sent.
func PublishBrief(ctx context.Context, notifier ports.Notifier, brief Brief) (bool, error) {
	if notifier == nil {
		return false, errors.New("no notifier configured")
	}
	message := FormatDigest(brief)
	if message == "" {
		return false, nil
	}
	if err := notifier.PublishDigest(ctx, message); err != nil {
		return false, fmt.Errorf("publish brief: %w", err)
	}
	return true, nil
}
