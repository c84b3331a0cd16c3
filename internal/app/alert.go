package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whaleinsight/internal/alerting"
	"whaleinsight/internal/domain"
	"whaleinsight/internal/ingest"
)

// AlertTest 通过配置的告警通道发送一条模拟通知。
func (a *App) AlertTest(ctx context.Context, opts AlertTestOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	note, err := sampleNotification(opts.Kind, time.Now().UTC())
	if err != nil {
		return err
	}
	return notifier.Notify(ctx, note)
}

func sampleNotification(kind string, at time.Time) (alerting.Notification, error) {
	switch alerting.Kind(kind) {
	case alerting.KindRunFailed, "":
		return alerting.Notification{
			Kind:            alerting.KindRunFailed,
			OccurredAt:      at,
			InstitutionCIK:  "0001067983",
			AccessionNumber: "0000950123-25-011111",
			RunID:           ingest.NewRunID(at),
			RunKind:         domain.RunKindFilingFetch,
			Error: &domain.RunErrorPayload{
				Source:  "sec",
				Retries: 2,
				Reason:  domain.ReasonRetryExhausted,
				Message: "simulated upstream failure",
				Status:  503,
			},
			AdditionalMsg: "simulated alert",
		}, nil
	case alerting.KindStaleSummary:
		return alerting.Notification{
			Kind:            alerting.KindStaleSummary,
			OccurredAt:      at,
			InstitutionCIK:  "0001067983",
			AccessionNumber: "0000950123-25-011111",
			ReportPeriod:    "2025-09-30",
			StaleRows:       1,
			TotalRows:       3,
			StaleTickers:    []string{"AAPL"},
			AdditionalMsg:   "simulated alert",
		}, nil
	default:
		return alerting.Notification{}, fmt.Errorf("unknown alert kind %q", kind)
	}
}
