package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/nan-scheduler/internal/wire"
	"github.com/signalsfoundry/nan-scheduler/model"
)

func newBitmapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bitmap",
		Short: "Convert between slot lists and the compact time bitmap",
	}
	cmd.AddCommand(newBitmapEncodeCmd(), newBitmapDecodeCmd())
	return cmd
}

func newBitmapEncodeCmd() *cobra.Command {
	var slots []int
	var offsets []int
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode slots into a time bitmap control and bitmap",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := model.BitmapFromSlots(slots...)
			for w := 0; w < model.DWIntervals; w++ {
				for _, off := range offsets {
					b.Set(w*model.SlotsPerDW + off)
				}
			}
			if b.IsZero() {
				return fmt.Errorf("no slot in range 0..%d", model.TotalSlots-1)
			}
			tb := wire.EncodeTimeBitmap(b)
			c := tb.Control
			fmt.Fprintf(cmd.OutOrStdout(), "control 0x%04x (duration=%d period=%d start=%d)\n", c.Raw(), c.Duration, c.Period, c.Start)
			fmt.Fprintf(cmd.OutOrStdout(), "bitmap  %s\n", hex.EncodeToString(tb.Bitmap))
			if got := tb.Decode(); got != b {
				fmt.Fprintf(cmd.OutOrStdout(), "covers  %v\n", got.Slots())
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&slots, "slots", nil, "absolute slot indices")
	cmd.Flags().IntSliceVar(&offsets, "offsets", nil, "slot offsets repeated in every DW interval")
	return cmd
}

func newBitmapDecodeCmd() *cobra.Command {
	var control, bitmap string
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a time bitmap into slots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := strconv.ParseUint(control, 0, 16)
			if err != nil {
				return fmt.Errorf("control: %w", err)
			}
			c, err := wire.ParseTimeBitmapControl(uint16(raw))
			if err != nil {
				return err
			}
			data, err := hex.DecodeString(bitmap)
			if err != nil {
				return fmt.Errorf("bitmap: %w", err)
			}
			if len(data) > wire.MaxBitmapLen {
				return fmt.Errorf("bitmap: %d bytes, at most %d", len(data), wire.MaxBitmapLen)
			}
			b := wire.TimeBitmap{Control: c, Bitmap: data}.Decode()
			fmt.Fprintf(cmd.OutOrStdout(), "slots %v\n", b.Slots())
			return nil
		},
	}
	cmd.Flags().StringVar(&control, "control", "", "time bitmap control, decimal or 0x hex")
	cmd.Flags().StringVar(&bitmap, "bitmap", "", "time bitmap bytes in hex")
	_ = cmd.MarkFlagRequired("control")
	_ = cmd.MarkFlagRequired("bitmap")
	return cmd
}
