package scheduler

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"chime/internal/eventbus"
	"chime/internal/task"
	"chime/pkg/logx"
)

var (
	errNoDevice   = errors.New("no device client configured")
	errNoReplayer = errors.New("no orchestrator configured")
)

func (s *Service) runTimer(ctx context.Context, t task.ScheduledTask) result {
	if s.device == nil {
		return result{status: task.StatusFailed, err: errNoDevice}
	}
	msg := strings.TrimSpace(t.Timer.Message)
	if msg == "" {
		msg = "Your timer is done."
	}
	cctx, cancel := context.WithTimeout(ctx, s.config().DeviceCallTimeout)
	defer cancel()
	if err := s.device.Announce(cctx, t.Timer.AnnounceTarget, msg); err != nil {
		return result{status: task.StatusFailed, err: err}
	}
	return result{status: task.StatusCompleted}
}

func (s *Service) runDeferred(ctx context.Context, t task.ScheduledTask) result {
	if s.replayer == nil {
		return result{status: task.StatusFailed, err: errNoReplayer}
	}
	cctx, cancel := context.WithTimeout(ctx, s.config().ReplayTimeout)
	defer cancel()
	if err := s.replayer.Replay(cctx, t.CorrelationID, t.Action.Prompt, t.Action.Context); err != nil {
		return result{status: task.StatusFailed, err: err}
	}
	return result{status: task.StatusCompleted}
}

// ringAlarm plays the alarm every PlaybackInterval with a ramped volume
// until it is cancelled, auto-dismissed or the device fails.
func (s *Service) ringAlarm(ctx context.Context, t task.ScheduledTask) result {
	if s.device == nil {
		return result{status: task.StatusFailed, err: errNoDevice, outcome: AlarmFailed}
	}
	p := t.Alarm
	cfg := s.config()
	interval := p.PlaybackInterval
	if interval <= 0 {
		interval = cfg.DefaultPlaybackInterval
	}

	var autoDismiss <-chan time.Time
	if p.AutoDismissAfter > 0 {
		ad := time.NewTimer(p.AutoDismissAfter)
		defer ad.Stop()
		autoDismiss = ad.C
	}

	s.publish(eventbus.AlarmRinging, t, task.StatusRunning, nil)
	started := time.Now()
	for rounds := 0; ; rounds++ {
		pct := int(math.Round(RampVolume(p.VolumeStart, p.VolumeEnd, p.VolumeRampDuration, time.Since(started)) * 100))
		if err := s.playOnce(ctx, t, pct, cfg.DeviceCallTimeout); err != nil {
			s.stopPlayback(t, cfg.DeviceCallTimeout)
			if ctx.Err() != nil {
				return result{}
			}
			return result{status: task.StatusFailed, err: err, outcome: AlarmFailed}
		}
		s.log.Trace("alarm.round", logx.Task(t.ID, string(t.Kind)), logx.Int("round", rounds), logx.Int("volume", pct))

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			s.stopPlayback(t, cfg.DeviceCallTimeout)
			return result{}
		case <-autoDismiss:
			wait.Stop()
			s.stopPlayback(t, cfg.DeviceCallTimeout)
			s.log.Info("alarm auto-dismissed", logx.Task(t.ID, string(t.Kind)), logx.Duration("after", p.AutoDismissAfter))
			return result{status: task.StatusCompleted, outcome: AlarmAutoDismissed}
		case <-wait.C:
		}
	}
}

func (s *Service) playOnce(ctx context.Context, t task.ScheduledTask, pct int, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := t.Alarm
	if p.SoundURI != "" {
		return s.device.PlaySound(cctx, p.TargetEntity, p.SoundURI, pct)
	}
	label := strings.TrimSpace(t.Label)
	if label == "" {
		label = "Alarm"
	}
	if err := s.device.SetVolume(cctx, p.TargetEntity, pct); err != nil {
		return err
	}
	return s.device.Announce(cctx, p.TargetEntity, label)
}

// stopPlayback runs on a fresh context; the task context is usually done.
func (s *Service) stopPlayback(t task.ScheduledTask, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.device.StopPlayback(ctx, t.Alarm.TargetEntity); err != nil {
		s.log.Debug("stop playback failed", logx.Task(t.ID, string(t.Kind)), logx.Err(err))
	}
}

// RampVolume interpolates linearly from start to end over ramp. A zero
// ramp means full end volume immediately.
func RampVolume(start, end float64, ramp, elapsed time.Duration) float64 {
	if ramp <= 0 || elapsed >= ramp {
		return clamp01(end)
	}
	if elapsed <= 0 {
		return clamp01(start)
	}
	frac := float64(elapsed) / float64(ramp)
	return clamp01(start + (end-start)*frac)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
