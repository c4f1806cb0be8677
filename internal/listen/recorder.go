package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/vad"
)

// Recorder captures one utterance using voice activity detection.
//
// Time is measured in audio time, the summed duration of the frames read,
// so the limits passed to Capture hold regardless of how fast the source
// delivers frames.
type Recorder struct {
	src     audio.Source
	vad     vad.Engine
	vadCfg  vad.Config
	preRoll time.Duration
	log     *slog.Logger
}

// NewRecorder returns a Recorder reading from src and classifying frames
// with sessions created from eng using cfg.
func NewRecorder(src audio.Source, eng vad.Engine, cfg vad.Config, opts ...Option) (*Recorder, error) {
	if src == nil {
		return nil, errors.New("listen: audio source is nil")
	}
	if eng == nil {
		return nil, errors.New("listen: vad engine is nil")
	}
	o := applyOptions(opts)
	return &Recorder{src: src, vad: eng, vadCfg: cfg, preRoll: o.preRoll, log: o.logger}, nil
}

// Capture records until trailing silence exceeds maxSilence after speech
// began, or until maxDuration of audio has been read. If no frame was
// classified as speech by then it returns [ErrTimeout]. It returns ctx.Err()
// when ctx is cancelled.
func (r *Recorder) Capture(ctx context.Context, maxDuration, maxSilence time.Duration) (Utterance, error) {
	if maxDuration <= 0 {
		return Utterance{}, fmt.Errorf("listen: max duration must be positive, got %s", maxDuration)
	}
	if maxSilence <= 0 {
		return Utterance{}, fmt.Errorf("listen: max silence must be positive, got %s", maxSilence)
	}

	sess, err := r.vad.NewSession(r.vadCfg)
	if err != nil {
		return Utterance{}, fmt.Errorf("listen: start vad session: %w", err)
	}
	defer sess.Close()

	var (
		elapsed  time.Duration
		silence  time.Duration
		started  bool
		speech   int
		format   audio.Frame
		pcm      []byte
		preRoll  []audio.Frame
		rollSize time.Duration
	)

capture:
	for {
		if err := ctx.Err(); err != nil {
			return Utterance{}, err
		}
		frame, err := r.src.ReadFrame(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Utterance{}, ctxErr
			}
			return Utterance{}, fmt.Errorf("listen: read frame: %w", err)
		}
		d := frame.Duration()
		elapsed += d

		isSpeech := false
		ev, err := sess.ProcessFrame(frame.Data)
		if err != nil {
			r.log.Warn("vad error", "err", err)
		} else {
			isSpeech = ev.IsSpeech()
		}

		switch {
		case !started && isSpeech:
			started = true
			format = frame
			for _, f := range preRoll {
				pcm = append(pcm, f.Data...)
			}
			preRoll = nil
			pcm = append(pcm, frame.Data...)
			speech++
		case !started:
			if r.preRoll > 0 {
				preRoll = append(preRoll, frame)
				rollSize += d
				for len(preRoll) > 0 && rollSize > r.preRoll {
					rollSize -= preRoll[0].Duration()
					preRoll = preRoll[1:]
				}
			}
		case isSpeech:
			pcm = append(pcm, frame.Data...)
			silence = 0
			speech++
		default:
			pcm = append(pcm, frame.Data...)
			silence += d
		}

		if started && silence > maxSilence {
			break capture
		}
		if elapsed >= maxDuration {
			if !started {
				return Utterance{}, ErrTimeout
			}
			r.log.Debug("utterance hit max duration", "max", maxDuration)
			break capture
		}
	}

	u := Utterance{
		PCM:          pcm,
		SampleRate:   format.SampleRate,
		Channels:     max(format.Channels, 1),
		SpeechFrames: speech,
	}
	u.Duration = audio.PCMDuration(len(pcm), u.SampleRate, u.Channels)
	return u, nil
}
