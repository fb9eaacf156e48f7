package challenge

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	mrand "math/rand/v2"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	captchaCharset = "abcde2345678gfynmnpwx"
	captchaLength  = 6

	devCaptchaToken = "dev-token"
	devCaptchaTTL   = 600 * time.Second
)

// Challenge is an issued captcha. Payload is a base64 PNG, empty for the
// development provider.
type Challenge struct {
	ID      string        `json:"captchaToken"`
	Payload string        `json:"captchaImage"`
	TTL     time.Duration `json:"-"`
}

// TTLSeconds is the challenge lifetime in whole seconds.
func (c Challenge) TTLSeconds() int {
	return int(c.TTL / time.Second)
}

type captchaProvider interface {
	generate(ctx context.Context) (Challenge, error)
	validate(ctx context.Context, id, response string) (bool, error)
}

type localCaptcha struct {
	codes CodeStore
	ttl   time.Duration
}

func (p *localCaptcha) generate(ctx context.Context) (Challenge, error) {
	answer, err := internal.NewCode(captchaCharset, captchaLength)
	if err != nil {
		return Challenge{}, err
	}
	id := uuid.NewString()
	if err := p.codes.Put(ctx, captchaKey(id), answer, p.ttl); err != nil {
		return Challenge{}, err
	}
	img, err := renderCaptcha(answer)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{ID: id, Payload: img, TTL: p.ttl}, nil
}

func (p *localCaptcha) validate(ctx context.Context, id, response string) (bool, error) {
	answer, ok, err := p.codes.Take(ctx, captchaKey(id))
	if err != nil || !ok {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(response), answer), nil
}

type devCaptcha struct{}

func (devCaptcha) generate(context.Context) (Challenge, error) {
	return Challenge{ID: devCaptchaToken, TTL: devCaptchaTTL}, nil
}

func (devCaptcha) validate(_ context.Context, id, _ string) (bool, error) {
	return id == devCaptchaToken, nil
}

func captchaKey(id string) string {
	return "cap:" + id
}

// renderCaptcha draws text on a noisy background and returns the PNG as
// base64.
func renderCaptcha(text string) (string, error) {
	const (
		scale  = 3
		width  = 160
		height = 50
	)
	face := basicfont.Face7x13

	small := image.NewRGBA(image.Rect(0, 0, width/scale, height/scale))
	draw.Draw(small, small.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(color.RGBA{R: 30, G: 30, B: 90, A: 255}),
		Face: face,
		Dot:  fixed.P(4, 12),
	}
	d.DrawString(text)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, small.At(x/scale, y/scale))
		}
	}
	for i := 0; i < 400; i++ {
		img.Set(mrand.IntN(width), mrand.IntN(height), color.RGBA{
			R: uint8(mrand.IntN(256)), G: uint8(mrand.IntN(256)), B: uint8(mrand.IntN(256)), A: 255,
		})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
