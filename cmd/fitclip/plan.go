package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"fitclip/internal/jobs"
	"fitclip/internal/planner"
	"fitclip/internal/probe"
)

func newPlanCommand(configFlag *string) *cobra.Command {
	var targetFlag string

	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Show the encode parameters a file would get, without encoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(*configFlag, targetFlag, args[0])
		},
	}

	cmd.Flags().StringVarP(&targetFlag, "target", "t", "", `Target output size, e.g. "8MB" (overrides config)`)

	return cmd
}

func runPlan(configFlag, targetFlag, path string) error {
	cfg, _, err := loadConfig(configFlag)
	if err != nil {
		return err
	}

	settings := cfg.Settings()
	if targetFlag != "" {
		size, err := humanize.ParseBytes(targetFlag)
		if err != nil {
			return fmt.Errorf("parse target size %q: %w", targetFlag, err)
		}
		settings.TargetSizeBytes = int64(size)
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	probed, err := probe.NewProber(cfg.FFprobePath).Probe(ctx, path)
	if err != nil {
		return err
	}

	plan, err := planner.Compute(jobs.PlanInput(settings, probed))
	if err != nil {
		return err
	}

	renderPlan(probed, plan, settings.TargetSizeBytes)
	return nil
}

func renderPlan(probed *probe.Result, plan *planner.Plan, targetBytes int64) {
	resolution := "keep source"
	if plan.Width > 0 {
		resolution = fmt.Sprintf("%dx%d", plan.Width, plan.Height)
	}
	frameRate := "keep source"
	if plan.FrameRate > 0 {
		frameRate = fmt.Sprintf("%g fps", plan.FrameRate)
	}
	audio := "none"
	if plan.AudioKbps > 0 {
		audio = fmt.Sprintf("aac @ %d kbps", plan.AudioKbps)
	}
	sourceAudio := "none"
	if probed.HasAudio {
		sourceAudio = probed.AudioCodec
		if probed.AudioKbps > 0 {
			sourceAudio = fmt.Sprintf("%s @ %d kbps", probed.AudioCodec, probed.AudioKbps)
		}
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"", "Source", "Planned"})
	tw.AppendRows([]table.Row{
		{"Size", humanize.IBytes(uint64(probed.Size)), humanize.IBytes(uint64(targetBytes))},
		{"Duration", probed.Duration.Round(time.Second).String(), ""},
		{"Resolution", fmt.Sprintf("%dx%d", probed.Width, probed.Height), resolution},
		{"Frame rate", fmt.Sprintf("%g fps", probed.FrameRate), frameRate},
		{"Video", fmt.Sprintf("%s @ %d kbps", probed.VideoCodec, probed.Bitrate/1000), fmt.Sprintf("h264 @ %d kbps", plan.VideoKbps)},
		{"Audio", sourceAudio, audio},
		{"Encoder", "", fmt.Sprintf("%s (%s)", plan.Encoder, plan.SpeedPreset)},
	})
	tw.Render()
}
