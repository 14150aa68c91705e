// Package installer runs one install end to end: provision the
// environment, materialize the payload, generate the service artifacts,
// then activate and verify the service.
package installer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"personactl/internal/activate"
	"personactl/internal/config"
	"personactl/internal/host"
	"personactl/internal/materialize"
	"personactl/internal/pipeline"
	"personactl/internal/provision"
	"personactl/internal/resolve"
	"personactl/internal/unit"
)

// Installer holds the collaborators shared by every install.
type Installer struct {
	Host    host.Host
	Config  config.Config
	Log     zerolog.Logger
	Metrics *pipeline.Metrics

	now      func() time.Time
	newRunID func() string
	sleep    func(ctx context.Context, d time.Duration) error
}

// Outcome summarizes a finished install.
type Outcome struct {
	RunID   string
	Label   string
	State   activate.State
	Results []pipeline.Result
	// Rewritten lists payload variables whose inline default was bound.
	Rewritten []string
}

// Running reports whether the service was verified up.
func (o *Outcome) Running() bool { return o.State == activate.StateRunning }

// settings merges per-invocation options over configuration.
func (in *Installer) settings(req *resolve.Request) (payload string, us unit.Settings, settle time.Duration) {
	payload = in.Config.PayloadDir
	if req.Options.PayloadDir != "" {
		payload = req.Options.PayloadDir
	}
	us = unit.Settings{User: in.Config.User, RestartSec: in.Config.RestartSeconds, Python: in.Config.Python}
	if req.Options.User != "" {
		us.User = req.Options.User
	}
	settle = time.Duration(in.Config.SettleSeconds) * time.Second
	if req.Options.Settle != nil {
		settle = *req.Options.Settle
	}
	return payload, us, settle
}

// Install executes every step for req in order, stopping at the first
// failure, which is returned as a *pipeline.Failure. A service that is not
// running after the settle delay is a warning, not a failure.
func (in *Installer) Install(ctx context.Context, req *resolve.Request) (*Outcome, error) {
	newID := in.newRunID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	out := &Outcome{RunID: newID(), Label: req.Label(), State: activate.StateNone}
	log := in.Log.With().Str("run_id", out.RunID).Str("profile", string(req.Profile.ID)).Logger()
	if req.Variant != "" {
		log = log.With().Str("variant", string(req.Variant)).Logger()
	}

	payload, us, settle := in.settings(req)
	mat := &materialize.Materializer{PayloadDir: payload, Log: log, Now: in.now}
	prov := &provision.Provisioner{Host: in.Host, DriverVersion: in.Config.DriverVersion, Log: log}
	ctl := &activate.Controller{Host: in.Host, Settle: settle, PostInstallTest: in.Config.PostInstallTest, Log: log, Sleep: in.sleep}
	service := req.Profile.ServiceName()

	steps := []pipeline.Step{{
		Name: "locate payload",
		Run: func(ctx context.Context) error {
			src, err := mat.Source(req)
			if err == nil {
				log.Info().Str("source", src).Msg("payload found")
			}
			return err
		},
	}}
	steps = append(steps, prov.Steps(req)...)
	steps = append(steps,
		pipeline.Step{Name: "copy payload", Run: func(ctx context.Context) error {
			return mat.Copy(ctx, req)
		}},
		pipeline.Step{Name: "bind parameters", Run: func(ctx context.Context) error {
			res, err := mat.Bind(req)
			out.Rewritten = res.Rewritten
			return err
		}},
		pipeline.Step{Name: "write run script", Run: func(ctx context.Context) error {
			path, err := unit.WriteRunScript(req, us)
			if err == nil {
				log.Info().Str("path", path).Msg("run script written")
			}
			return err
		}},
		pipeline.Step{Name: "register service", Run: func(ctx context.Context) error {
			u, err := unit.Service(req, us)
			if err != nil {
				return err
			}
			return ctl.Register(ctx, u)
		}},
		pipeline.Step{Name: "enable service", Run: func(ctx context.Context) error {
			return ctl.Enable(ctx, service)
		}},
		pipeline.Step{Name: "start service", Run: func(ctx context.Context) error {
			return ctl.Start(ctx, service)
		}},
		pipeline.Step{Name: "verify service", Run: func(ctx context.Context) error {
			st, err := ctl.Verify(ctx, service)
			out.State = st
			if err != nil {
				return err
			}
			if st == activate.StateStopped {
				activate.WarnStopped(log, req)
			} else {
				log.Info().Str("service", service).Msg("service is running")
			}
			return nil
		}},
		pipeline.Step{Name: "post-install test", Run: func(ctx context.Context) error {
			return ctl.RunPostInstallTest(ctx, req)
		}},
	)

	log.Info().Str("install_dir", req.InstallDir).Int("steps", len(steps)).Msg("installing " + req.Label())
	runner := &pipeline.Runner{RunID: out.RunID, Args: req.Args, Log: log, Metrics: in.Metrics}
	results, err := runner.Run(ctx, steps)
	out.Results = results
	if in.Config.MetricsTextfile != "" {
		if werr := in.Metrics.WriteTextfile(in.Config.MetricsTextfile); werr != nil {
			log.Warn().Err(werr).Str("path", in.Config.MetricsTextfile).Msg("could not write metrics textfile")
		}
	}
	if err != nil {
		return out, err
	}
	log.Info().Str("service", service).Str("state", string(out.State)).Msg("install complete")
	return out, nil
}
