// Package playback plays synthesized audio to completion while driving the
// avatar's lip-sync.
package playback

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/go-go-golems/grillo/pkg/blob"
	"github.com/go-go-golems/grillo/pkg/stage"
	"github.com/rs/zerolog/log"
)

var ErrDecodeFailed = stage.New(stage.Playback, stage.KindDecodeFailed)

// Decoder checks that a file holds playable audio and reports its length.
type Decoder interface {
	Decode(ctx context.Context, path string) (time.Duration, error)
}

// Player blocks until the file has finished playing.
type Player interface {
	Play(ctx context.Context, path string) error
}

// LipSync receives the speaking started/stopped signals.
type LipSync interface {
	Start(duration time.Duration, animation int)
	Stop(idle int)
}

// Animations selects the avatar animation indices used while speaking.
type Animations struct {
	Idle  int `yaml:"idle"`
	First int `yaml:"first"`
	Count int `yaml:"count"`
}

func DefaultAnimations() Animations {
	return Animations{Idle: 1, First: 2, Count: 8}
}

type nullLipSync struct{}

func (nullLipSync) Start(time.Duration, int) {}
func (nullLipSync) Stop(int)                 {}

type Effector struct {
	store      blob.Store
	decoder    Decoder
	player     Player
	lipSync    LipSync
	animations Animations

	mu  sync.Mutex
	rnd *rand.Rand
}

type Option func(*Effector)

func WithLipSync(l LipSync) Option {
	return func(e *Effector) {
		if l != nil {
			e.lipSync = l
		}
	}
}

func WithAnimations(a Animations) Option {
	return func(e *Effector) {
		e.animations = a
	}
}

func WithRand(r *rand.Rand) Option {
	return func(e *Effector) {
		e.rnd = r
	}
}

func NewEffector(store blob.Store, decoder Decoder, player Player, options ...Option) *Effector {
	e := &Effector{
		store:      store,
		decoder:    decoder,
		player:     player,
		lipSync:    nullLipSync{},
		animations: DefaultAnimations(),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Play writes the audio to a temporary blob, decodes it, plays it to
// completion and removes the blob. The stop signal and the deletion happen
// on every path, including decode failures.
func (e *Effector) Play(ctx context.Context, audio []byte) error {
	h, err := e.store.Create(audio, "mp3")
	if err != nil {
		return stage.Wrap(ErrDecodeFailed, err)
	}
	defer func() {
		if err := e.store.Delete(h); err != nil {
			log.Warn().Err(err).Str("path", string(h)).Msg("Failed to delete playback file")
		}
	}()
	defer e.lipSync.Stop(e.animations.Idle)

	duration, err := e.decoder.Decode(ctx, string(h))
	if err != nil {
		return stage.Wrap(ErrDecodeFailed, err)
	}
	if duration <= 0 {
		return stage.Wrapf(ErrDecodeFailed, "no playable audio in %s", h)
	}

	anim := e.pickAnimation()
	log.Debug().Dur("duration", duration).Int("animation", anim).Msg("Speaking")
	e.lipSync.Start(duration, anim)

	if err := e.player.Play(ctx, string(h)); err != nil {
		return stage.Wrap(ErrDecodeFailed, err)
	}
	return nil
}

func (e *Effector) pickAnimation() int {
	if e.animations.Count <= 1 {
		return e.animations.First
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.animations.First + e.rnd.Intn(e.animations.Count)
}
