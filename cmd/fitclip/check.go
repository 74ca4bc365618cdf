package main

import (
	"context"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"fitclip/internal/check"
)

func newCheckCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the external tools fitclip depends on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(*configFlag)
		},
	}
}

func runCheck(configFlag string) error {
	cfg, _, err := loadConfig(configFlag)
	if err != nil {
		return err
	}

	checker := check.New()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report := checker.Run(ctx, cfg)

	hardware := "not available"
	if report.HardwareEncoder {
		hardware = "available"
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Tool", "Status", "Path", "Version"})
	tw.AppendRow(toolRow(report.FFmpeg))
	tw.AppendRow(toolRow(report.FFprobe))
	tw.AppendRow(table.Row{"h264_nvenc", hardware, "", ""})
	tw.Render()

	// Non-zero exit when a required tool is missing
	return checker.Tools(cfg)
}

func toolRow(t check.Tool) table.Row {
	status := "missing"
	if t.Found {
		status = "ok"
	}
	return table.Row{t.Name, status, t.Path, t.Version}
}
