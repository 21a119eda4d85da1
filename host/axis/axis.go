// Package axis builds the axes of a machine from its configuration: a timing
// source, a driver and a motion controller per axis.
package axis

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"stepramp/config"
	"stepramp/driver"
	"stepramp/host/serial"
	"stepramp/motion"
	"stepramp/timing"
)

var ErrUnknownAxis = errors.New("unknown axis")

// Axis is one configured axis
type Axis struct {
	Name       string
	Controller *motion.Controller
	Backend    driver.Backend
	Timing     timing.Source
}

// Options for Build
type Options struct {
	Logger logrus.FieldLogger

	// OpenPort opens serial driver devices. Defaults to serial.Open.
	OpenPort func(*serial.Config) (serial.Port, error)

	// OnEvent receives the events of every axis
	OnEvent func(axis string, ev motion.Event)
}

// Machine is the set of axes built from one configuration. All axes share
// the scheduler passed to Build.
type Machine struct {
	log   logrus.FieldLogger
	sched *timing.Scheduler
	names []string
	axes  map[string]*Axis
	links map[string]*driver.Link
}

// Build creates every axis in cfg. Nothing is left open on error.
func Build(cfg *config.MachineConfig, sched *timing.Scheduler, opts Options) (*Machine, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.OpenPort == nil {
		opts.OpenPort = serial.Open
	}

	m := &Machine{
		log:   opts.Logger,
		sched: sched,
		axes:  make(map[string]*Axis),
		links: make(map[string]*driver.Link),
	}

	for _, name := range cfg.AxisNames() {
		a, err := m.build(name, cfg.Axes[name], cfg.Timing, opts)
		if err != nil {
			return nil, multierr.Append(errors.Wrapf(err, "axis %s", name), m.Close())
		}
		m.axes[name] = a
		m.names = append(m.names, name)
	}
	return m, nil
}

func (m *Machine) build(name string, ac config.AxisConfig, tc config.TimingConfig, opts Options) (*Axis, error) {
	profile, err := ac.RampProfile()
	if err != nil {
		return nil, err
	}

	src, err := m.timingSource(tc)
	if err != nil {
		return nil, err
	}

	log := opts.Logger.WithField("axis", name)
	backend, err := m.backend(ac.Driver, log, opts)
	if err != nil {
		return nil, err
	}

	onEvent := func(ev motion.Event) {
		if opts.OnEvent != nil {
			opts.OnEvent(name, ev)
		}
	}

	ctl, err := motion.New(motion.Config{
		Name:      name,
		Profile:   profile,
		Timing:    src,
		Callbacks: driver.Callbacks(backend, onEvent),
		Logger:    opts.Logger,
		TraceSize: ac.TraceSize,
	})
	if err != nil {
		return nil, multierr.Append(err, backend.Close())
	}

	log.WithFields(logrus.Fields{
		"profile": profile.Kind(),
		"driver":  backend.Info().Name,
		"timing":  tc.Backend,
	}).Debug("axis ready")

	return &Axis{Name: name, Controller: ctl, Backend: backend, Timing: src}, nil
}

func (m *Machine) timingSource(tc config.TimingConfig) (timing.Source, error) {
	switch tc.Backend {
	case config.TimingSoftware:
		return timing.NewSoftwareTimer(m.sched), nil
	case config.TimingCounter:
		return timing.NewCounterSource(timing.NewSimCounter(m.sched, tc.CounterFrequencyHz))
	default:
		return nil, errors.Errorf("unknown timing backend %q", tc.Backend)
	}
}

func (m *Machine) backend(dc config.DriverConfig, log logrus.FieldLogger, opts Options) (driver.Backend, error) {
	switch dc.Kind {
	case config.DriverLog:
		return driver.NewLogBackend(log), nil
	case config.DriverSerial:
		link, ok := m.links[dc.Device]
		if !ok {
			port, err := opts.OpenPort(&serial.Config{
				Device:      dc.Device,
				Baud:        dc.Baud,
				ReadTimeout: dc.ReadTimeoutMs,
			})
			if err != nil {
				return nil, err
			}
			link = driver.OpenLink(port, driver.LinkConfig{
				QueueSize: dc.QueueSize,
				Logger:    opts.Logger.WithField("device", dc.Device),
			})
			m.links[dc.Device] = link
		}
		return link.Backend(dc.LinkAxis), nil
	default:
		return nil, errors.Errorf("unknown driver kind %q", dc.Kind)
	}
}

// Axis returns the named axis
func (m *Machine) Axis(name string) (*Axis, error) {
	a, ok := m.axes[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownAxis, name)
	}
	return a, nil
}

// Names returns the axis names in sorted order
func (m *Machine) Names() []string {
	return m.names
}

// Scheduler returns the scheduler driving the axes
func (m *Machine) Scheduler() *timing.Scheduler {
	return m.sched
}

// StopAll decelerates every moving axis
func (m *Machine) StopAll() {
	for _, name := range m.names {
		if steps := m.axes[name].Controller.Stop(); steps > 0 {
			m.log.WithFields(logrus.Fields{"axis": name, "decel_steps": steps}).Info("stopping")
		}
	}
}

// Close halts every axis at once and releases drivers and serial links.
func (m *Machine) Close() error {
	var err error
	for _, name := range m.names {
		a := m.axes[name]
		err = multierr.Append(err, a.Timing.Stop())
		err = multierr.Append(err, a.Backend.Close())
	}
	for dev, link := range m.links {
		if cerr := link.Close(); cerr != nil {
			err = multierr.Append(err, errors.Wrap(cerr, dev))
		}
	}
	m.axes = make(map[string]*Axis)
	m.links = make(map[string]*driver.Link)
	m.names = nil
	return err
}
