package video

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// RTSPProbe checks that an RTSP endpoint answers DESCRIBE, accepts SETUP
// and PLAY, and delivers at least one RTP packet. Camera URLs that pass
// DESCRIBE but never stream are common; the decoder would otherwise hang
// on them until its own timeout.
type RTSPProbe struct {
	Timeout time.Duration
}

// ProbeResult describes what the stream advertised.
type ProbeResult struct {
	Codecs      []string
	FirstPacket time.Duration
}

// Probe connects to rawURL and waits for the first packet.
func (p *RTSPProbe) Probe(ctx context.Context, rawURL string) (*ProbeResult, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("failed to describe stream: %w", err)
	}

	res := &ProbeResult{}
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			res.Codecs = append(res.Codecs, forma.Codec())
		}
	}
	if len(res.Codecs) == 0 {
		return nil, fmt.Errorf("stream advertises no formats")
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}

	first := make(chan struct{}, 1)
	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, _ *rtp.Packet) {
		select {
		case first <- struct{}{}:
		default:
		}
	})

	start := time.Now()
	if _, err := client.Play(nil); err != nil {
		return nil, fmt.Errorf("failed to play stream: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-first:
		res.FirstPacket = time.Since(start)
		return res, nil
	case <-timer.C:
		return nil, fmt.Errorf("no RTP packet within %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
