package main

import (
	"fmt"
	"strings"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/models"
)

// Delegate to common format helpers
func formatMoney(v float64) string     { return common.FormatMoney(v) }
func formatSignedPct(v float64) string { return common.FormatSignedPct(v) }

// formatReport renders an analysis report as markdown for agent consumers.
func formatReport(report *models.AnalysisReport, window models.Window) string {
	var sb strings.Builder

	sb.WriteString("# Realized Performance\n\n")
	sb.WriteString(fmt.Sprintf("**Run:** %s\n", report.RunID))
	sb.WriteString(fmt.Sprintf("**Window:** %s to %s\n",
		window.Start.Format("2006-01-02"), window.End.Format("2006-01-02")))
	sb.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04")))

	if report.Consolidated != nil {
		sb.WriteString("## Consolidated (all sources)\n\n")
		formatResult(&sb, report.Consolidated)
	}

	for i := range report.Results {
		r := &report.Results[i]
		sb.WriteString(fmt.Sprintf("## Source %s / %s\n\n", r.Source, r.Account))
		formatResult(&sb, r)
	}

	return sb.String()
}

func formatResult(sb *strings.Builder, r *models.PerformanceResult) {
	sb.WriteString(fmt.Sprintf("**Cumulative Return:** %s (%s annualized)\n",
		formatSignedPct(r.CumulativeReturnPct), formatSignedPct(r.AnnualizedReturnPct)))
	if r.XIRRAnnualizedPct != 0 {
		sb.WriteString(fmt.Sprintf("**XIRR:** %s\n", formatSignedPct(r.XIRRAnnualizedPct)))
	}
	sb.WriteString(fmt.Sprintf("**Headline Track:** %s\n", r.HeadlineTrack))
	sb.WriteString(fmt.Sprintf("**Coverage:** %.1f%% | **Synthetic Share:** %.1f%%\n",
		r.CoveragePct, r.SyntheticPct))

	if r.Reliable {
		sb.WriteString("**Reliability:** reliable\n")
	} else {
		sb.WriteString(fmt.Sprintf("**Reliability:** UNRELIABLE. %s\n", r.ReliabilityNote))
	}
	sb.WriteString("\n")

	// Both tracks side by side so agents can judge the synthetic impact.
	sb.WriteString("| Track | Cumulative | Annualized | Start NAV | End NAV |\n")
	sb.WriteString("|-------|------------|------------|-----------|--------|\n")
	writeTrackRow(sb, string(models.TrackSyntheticEnhanced), &r.SyntheticEnhanced)
	writeTrackRow(sb, string(models.TrackObservedOnly), &r.ObservedOnly)
	sb.WriteString("\n")

	headline := r.SyntheticEnhanced
	if r.HeadlineTrack == models.TrackObservedOnly {
		headline = r.ObservedOnly
	}
	if len(headline.MonthlyReturns) > 0 {
		sb.WriteString("### Monthly Returns\n\n")
		sb.WriteString("| Period | Return | NAV | External Flow |\n")
		sb.WriteString("|--------|--------|-----|---------------|\n")
		for _, m := range headline.MonthlyReturns {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				m.Period, formatSignedPct(m.ReturnPct), formatMoney(m.NAV),
				common.FormatSignedMoney(m.ExternalFlow)))
		}
		sb.WriteString("\n")
	}

	if len(r.DataQualityFlags) > 0 {
		sb.WriteString(fmt.Sprintf("**Data Quality Flags:** %s\n", strings.Join(r.DataQualityFlags, ", ")))
	}
	if r.FuturesNotionalSuppressed > 0 {
		sb.WriteString(fmt.Sprintf("**Futures Legs Suppressed:** %d\n", r.FuturesNotionalSuppressed))
	}
	if r.IncomeOverlapDropped > 0 {
		sb.WriteString(fmt.Sprintf("**Income Overlaps Dropped:** %d\n", r.IncomeOverlapDropped))
	}
	if r.SyntheticEntryCount > 0 {
		sb.WriteString(fmt.Sprintf("**Synthetic Entries:** %d\n", r.SyntheticEntryCount))
	}

	if len(r.Diagnostics) > 0 {
		sb.WriteString("\n### Diagnostics\n\n")
		for _, d := range r.Diagnostics {
			sb.WriteString(fmt.Sprintf("- `%s` %s\n", d.Code, d.Detail))
		}
	}
	sb.WriteString("\n")
}

func writeTrackRow(sb *strings.Builder, name string, t *models.TrackSeries) {
	sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
		name, formatSignedPct(t.CumulativeReturnPct), formatSignedPct(t.AnnualizedReturnPct),
		formatMoney(t.StartNAV), formatMoney(t.EndNAV)))
}
