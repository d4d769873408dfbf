package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/scan"
)

var (
	scanPetID   string
	scanUserID  string
	scanImage   string
	scanProduct string
	scanBrand   string
	scanServing float64
	scanTimeout time.Duration
)

// scanRunner is the part of scan.Service the scan command drives.
type scanRunner interface {
	SubmitScan(ctx context.Context, req model.ScanRequest) (string, error)
	Wait(ctx context.Context, id string) (*model.Scan, error)
	GetScanResult(ctx context.Context, id string) (*model.ScanOutcome, error)
	CancelScan(ctx context.Context, id string) error
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Analyze a single label image for a pet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		image, err := os.ReadFile(scanImage)
		if err != nil {
			return eris.Wrap(err, "read image")
		}

		env, err := initScanEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		req := model.ScanRequest{
			UserID:          scanUserID,
			PetID:           scanPetID,
			Image:           image,
			ProductNameHint: optionalFlag(scanProduct),
			BrandHint:       optionalFlag(scanBrand),
		}
		if scanServing > 0 {
			req.ServingSizeG = &scanServing
		}

		return runScan(ctx, env.Service, req, scanTimeout, os.Stdout)
	},
}

// runScan submits req, waits for it to finish and writes the outcome as
// indented JSON. A scan that does not complete is returned as an error.
func runScan(ctx context.Context, svc scanRunner, req model.ScanRequest, timeout time.Duration, out io.Writer) error {
	id, err := svc.SubmitScan(ctx, req)
	if err != nil {
		return eris.Wrap(err, "submit scan")
	}
	log := zap.L().With(zap.String("scan_id", id))
	log.Info("scan submitted", zap.String("pet_id", req.PetID))

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sc, err := svc.Wait(waitCtx, id)
	if err != nil {
		if cancelErr := svc.CancelScan(context.Background(), id); cancelErr != nil {
			log.Debug("cancel after wait", zap.Error(cancelErr))
		}
		return eris.Wrapf(err, "wait for scan %s", id)
	}

	switch sc.Status {
	case model.ScanStatusCompleted:
	case model.ScanStatusFailed:
		log.Warn("scan failed", zap.String("error", sc.Error))
		return eris.Errorf("scan %s failed: %s", id, scan.FailureMessage(sc.Error))
	default:
		return eris.Errorf("scan %s ended %s", id, sc.Status)
	}

	outcome, err := svc.GetScanResult(ctx, id)
	if err != nil {
		return eris.Wrap(err, "get scan result")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(outcome)
}

func optionalFlag(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func init() {
	scanCmd.Flags().StringVar(&scanPetID, "pet", "", "pet profile id (required)")
	scanCmd.Flags().StringVar(&scanUserID, "user", "", "user id recorded on the scan")
	scanCmd.Flags().StringVar(&scanImage, "image", "", "path to the label image (required)")
	scanCmd.Flags().StringVar(&scanProduct, "product", "", "product name hint")
	scanCmd.Flags().StringVar(&scanBrand, "brand", "", "brand hint")
	scanCmd.Flags().Float64Var(&scanServing, "serving", 0, "serving size in grams")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 2*time.Minute, "max time to wait for the scan")
	_ = scanCmd.MarkFlagRequired("pet")
	_ = scanCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(scanCmd)
}
