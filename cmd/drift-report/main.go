package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/common/logger"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/drift"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/history"

	"go.uber.org/zap"
)

func main() {
	// 解析命令行参数
	var input = flag.String("in", "", "Daily history workbook (.xlsx)")
	var output = flag.String("out", "drift_report.xlsx", "Output report workbook")
	var components = flag.Int("components", 2, "Gaussian mixture components")
	var seed = flag.Int64("seed", 42, "Mixture initialisation seed")
	var threshold = flag.Float64("threshold", 10.0, "Drift score alert threshold")
	var historyDays = flag.Int("history-days", 30, "Days of history used to fit the baseline")
	var refitDays = flag.Int("refit-days", 7, "Days between baseline refits")
	var template = flag.Bool("template", false, "Write an empty import template to -out and exit")
	flag.Parse()

	log, err := logger.NewLogger("info", "console", "drift-report")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *template {
		if err := writeFile(*output, func(f *os.File) error { return history.GenerateImportTemplate(f) }); err != nil {
			log.Fatal("Failed to write template", zap.Error(err))
		}
		log.Info("Template written", zap.String("path", *output))
		return
	}

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	in, err := os.Open(*input)
	if err != nil {
		log.Fatal("Failed to open workbook", zap.Error(err))
	}
	vectors, rowErrors, err := history.ImportDailyVectors(in)
	in.Close()
	if err != nil {
		log.Fatal("Failed to import workbook", zap.Error(err))
	}
	for _, re := range rowErrors {
		log.Warn("Skipped row", zap.Int("row", re.Row), zap.String("reason", re.Reason))
	}

	cfg := drift.DefaultMixtureConfig()
	cfg.Components = *components
	cfg.Seed = *seed
	opts := history.ReportOptions{
		HistoryDays: *historyDays,
		RefitDays:   *refitDays,
		Threshold:   *threshold,
	}

	groups := history.GroupByOccupant(vectors)
	occupants := make([]string, 0, len(groups))
	for id := range groups {
		occupants = append(occupants, id)
	}
	sort.Strings(occupants)

	var report []history.ScoredDay
	for _, id := range occupants {
		detector := drift.NewDetector(cfg, log.With(zap.String("occupant_id", id)))
		scored := history.ScoreOccupant(detector, groups[id], opts)

		alerts := 0
		for _, d := range scored {
			if d.Alert {
				alerts++
			}
		}
		log.Info("Occupant scored",
			zap.String("occupant_id", id),
			zap.Int("days", len(scored)),
			zap.Int("alert_days", alerts),
			zap.Bool("fitted", detector.Fitted()),
		)
		report = append(report, scored...)
	}

	if err := writeFile(*output, func(f *os.File) error { return history.ExportDriftReport(f, report) }); err != nil {
		log.Fatal("Failed to write report", zap.Error(err))
	}
	log.Info("Drift report written",
		zap.String("path", *output),
		zap.Int("occupants", len(occupants)),
		zap.Int("rows", len(report)),
	)
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
