package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stepramp/config"
	"stepramp/host/axis"
	"stepramp/motion"
	"stepramp/timing"
)

var (
	configPath = flag.String("config", "", "Machine configuration (JSON); a single dry run axis when empty")
	logLevel   = flag.String("log-level", "", "Override the configured log level")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return err
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched := timing.NewScheduler(timing.NewMonotonicClock())
	m, err := axis.Build(cfg, sched, axis.Options{
		Logger: log,
		OnEvent: func(name string, ev motion.Event) {
			log.WithField("axis", name).Info(ev.String())
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("scheduler stopped")
		}
	}()

	fmt.Println("stepramp - stepper ramp generator host")
	fmt.Printf("axes: %s\n", strings.Join(m.Names(), ", "))
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Error("reading input")
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			m.StopAll()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(ctx, m, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if quit {
				fmt.Println("Goodbye!")
				return nil
			}
		}
	}
}

func execute(ctx context.Context, m *axis.Machine, line string) (quit bool, err error) {
	parts, err := shlex.Split(line)
	if err != nil {
		return false, errors.Wrap(err, "parse command")
	}
	if len(parts) == 0 {
		return false, nil
	}
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "quit", "exit", "q":
		m.StopAll()
		return true, nil

	case "help", "?":
		printHelp()
		return false, nil

	case "axes":
		for _, name := range m.Names() {
			a, _ := m.Axis(name)
			printStatus(a)
		}
		return false, nil

	case "stop":
		if len(args) == 0 {
			m.StopAll()
			return false, nil
		}
	}

	if len(args) == 0 {
		return false, errors.Errorf("%s: axis required (type 'help')", cmd)
	}
	a, err := m.Axis(args[0])
	if err != nil {
		return false, err
	}
	ctl := a.Controller
	args = args[1:]

	switch cmd {
	case "move", "moveby", "setpos":
		if len(args) != 1 {
			return false, errors.Errorf("%s: position required", cmd)
		}
		v, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return false, errors.Wrap(err, cmd)
		}
		switch cmd {
		case "move":
			return false, ctl.MoveTo(int32(v))
		case "moveby":
			return false, ctl.MoveBy(int32(v))
		default:
			return false, ctl.SetPosition(int32(v))
		}

	case "run":
		dir := motion.Positive
		if len(args) > 0 && (args[0] == "-" || args[0] == "neg") {
			dir = motion.Negative
		}
		return false, ctl.Run(dir)

	case "stop":
		fmt.Printf("%s: %d deceleration steps\n", a.Name, ctl.Stop())

	case "pos", "status":
		printStatus(a)

	case "ramp":
		fmt.Printf("%s: %+v\n", a.Name, ctl.RampState())

	case "trace":
		ctl.DumpTrace()
		if len(args) > 0 && args[0] == "clear" {
			ctl.ClearTrace()
		}

	case "wait":
		timeout := 30 * time.Second
		if len(args) > 0 {
			if timeout, err = time.ParseDuration(args[0]); err != nil {
				return false, errors.Wrap(err, "wait")
			}
		}
		return false, waitIdle(ctx, ctl, timeout)

	default:
		return false, errors.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
	return false, nil
}

func waitIdle(ctx context.Context, ctl *motion.Controller, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for ctl.State() != motion.Idle {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait")
		case <-tick.C:
		}
	}
	if err := ctl.LastError(); err != nil && ctl.IsMoving() {
		return errors.Wrap(err, "axis stalled")
	}
	return nil
}

func printStatus(a *axis.Axis) {
	ctl := a.Controller
	fmt.Printf("%-8s pos=%-10d target=%-16s state=%s\n", a.Name, ctl.Position(), ctl.Target(), ctl.State())
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  axes                 - List axes with position and state")
	fmt.Println("  move <axis> <pos>    - Move to an absolute position")
	fmt.Println("  moveby <axis> <n>    - Move n steps from the current position")
	fmt.Println("  run <axis> [+|-]     - Run continuously")
	fmt.Println("  stop [axis]          - Decelerate one axis, or all")
	fmt.Println("  pos <axis>           - Show position, target and state")
	fmt.Println("  setpos <axis> <pos>  - Redefine the current position (idle only)")
	fmt.Println("  ramp <axis>          - Show the ramp generator state")
	fmt.Println("  trace <axis> [clear] - Dump the controller trace")
	fmt.Println("  wait <axis> [30s]    - Wait until the axis is idle")
	fmt.Println("  quit/exit/q          - Stop all axes and exit")
	fmt.Println()
}
