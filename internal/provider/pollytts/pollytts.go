// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

// Package pollytts drives Amazon Polly speech synthesis through the
// uniform provider capability. From the router's perspective a TTS
// provider is just another candidate; it consumes Request.Text and
// Request.Voice and returns audio bytes.
package pollytts

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/store"
	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// synthClient is the slice of the Polly API the adapter uses; tests
// substitute a fake.
type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Config holds Polly provider configuration.
type Config struct {
	Region       string
	DefaultVoice string
	Engine       string // "standard" or "neural"
}

// Provider implements provider.Provider using Amazon Polly.
type Provider struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Polly provider. AWS credentials resolve through the
// default chain at first use.
func New(cfg Config) *Provider {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		cfg.DefaultVoice = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	return &Provider{cfg: cfg}
}

// NewWithClient creates a Polly provider with an injected client, for tests.
func NewWithClient(cfg Config, client synthClient) *Provider {
	p := New(cfg)
	p.client = client
	return p
}

func (p *Provider) Name() string             { return "polly" }
func (p *Provider) Kind() store.ProviderKind { return store.ProviderKindAPI }
func (p *Provider) CarriesProxy() bool       { return true }

func (p *Provider) Models() []string { return []string{p.cfg.Engine} }

func (p *Provider) Invoke(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, relayerr.New(relayerr.CodeProviderModelUnsupported,
			"polly: request carries no text to synthesize", relayerr.FieldProvider(p.Name()))
	}

	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, provider.Transient(p.Name(), err)
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.DefaultVoice
	}

	var optFns []func(*polly.Options)
	if req.ProxyURL != "" {
		httpClient, cerr := provider.ProxyHTTPClient(req.ProxyURL)
		if cerr != nil {
			return nil, provider.Transient(p.Name(), cerr)
		}
		optFns = append(optFns, func(o *polly.Options) { o.HTTPClient = httpClient })
	}

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &req.Text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	}, optFns...)
	if err != nil {
		return nil, classify(p.Name(), err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, provider.Transient(p.Name(),
			relayerr.New(relayerr.CodeProviderInvokeTransient, "polly returned empty audio"))
	}
	defer output.AudioStream.Close()

	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, provider.Transient(p.Name(), err)
	}

	return &provider.Response{Audio: audio, Model: p.cfg.Engine}, nil
}

// OpenSession is a no-op: AWS credentials live outside the session store.
func (p *Provider) OpenSession(context.Context) ([]byte, error) { return nil, nil }

func (p *Provider) CloseSession(context.Context, []byte) error { return nil }

func (p *Provider) Close() error { return nil }

func (p *Provider) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderSessionOpenFailure, "loading aws config")
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}

// classify maps Polly failures onto the taxonomy: throttling and server
// faults are transient, malformed-input faults are permanent.
func classify(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return relayerr.Wrap(err, relayerr.CodeProviderInvokeTimeout,
			"polly call timed out", relayerr.FieldProvider(name))
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			return provider.Transient(name, err)
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException":
			return provider.Permanent(name, err)
		default:
			if apiErr.ErrorFault() == smithy.FaultClient {
				return provider.Permanent(name, err)
			}
			return provider.Transient(name, err)
		}
	}

	return provider.Transient(name, err)
}
