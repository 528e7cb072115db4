package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/portfolio-sync/internal/position"
	"github.com/amirphl/portfolio-sync/internal/reconcile"
	"github.com/amirphl/portfolio-sync/internal/utils"
)

const NoChangesMessage = "[INFO] Portfolio sync completed - No changes detected"

// FormatSyncReport renders the outcome of a sync for a chat message.
func FormatSyncReport(portfolioName string, d reconcile.Delta) string {
	if d.Empty() {
		return NoChangesMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s SYNC UPDATE]\n\n", portfolioName)

	if len(d.Inserted) > 0 {
		fmt.Fprintf(&b, "[+] Opened %d orders:\n", len(d.Inserted))
		writeLines(&b, d.Inserted)
		b.WriteString("\n")
	}
	if len(d.Deleted) > 0 {
		fmt.Fprintf(&b, "[-] Closed %d orders:\n", len(d.Deleted))
		writeLines(&b, d.Deleted)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Total changes: %d added, %d removed", len(d.Inserted), len(d.Deleted))
	return b.String()
}

func writeLines(b *strings.Builder, ps []position.Position) {
	for _, p := range ps {
		fmt.Fprintf(b, "  - %s: %s%% (x%d)\n", p.DisplayName, p.Amount.String(), p.Leverage)
	}
}

// FormatError renders a failed run; kind names the failure class.
func FormatError(kind string, err error) string {
	return fmt.Sprintf("❌ eToro Scraper Error (%s): %v", kind, err)
}

// NotifySync sends the sync report. Delivery failures are logged and reported
// through the return value only.
func NotifySync(ctx context.Context, n Notifier, portfolioName string, d reconcile.Delta) bool {
	if err := n.Send(ctx, FormatSyncReport(portfolioName, d)); err != nil {
		utils.GetLogger().Named("notifier").Errorw("failed to send sync notification", "portfolio", portfolioName, "error", err)
		return false
	}
	return true
}
