// loomdemo runs the reference three-process scenario: a starter that
// monitors a parent, a parent that traps exits and links a child, and a
// child shut down on request. It prints the monitor notifications the
// starter collects.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/loom-services/loom"
	"github.com/loom-services/loom/node"
	"github.com/loom-services/loom/term"
)

type config struct {
	NodeName string `yaml:"node_name"`
	Debug    bool   `yaml:"debug"`
}

var (
	flagConfig string
	flagDebug  bool
	flagName   string
)

func main() {
	cmd := &cobra.Command{
		Use:          "loomdemo",
		Short:        "run the starter/parent/child supervision scenario",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&flagDebug, "debug", false, "enable runtime debug logging")
	cmd.Flags().StringVar(&flagName, "node-name", "demo@localhost", "node name")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config, error) {
	cfg := config{
		NodeName: flagName,
		Debug:    flagDebug,
	}
	if flagConfig == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(flagConfig)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", flagConfig, err)
	}
	if cfg.NodeName == "" {
		cfg.NodeName = flagName
	}
	return cfg, nil
}

func newLogger(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(colorable.NewColorableStdout()),
		level,
	)
	return zap.New(core)
}

func run(cfg config) error {
	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	n, err := loom.StartNode(cfg.NodeName, node.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer n.Stop()

	starter, err := n.Spawn("starter", node.ProcessOptions{}, starterTask)
	if err != nil {
		return err
	}

	if err := starter.WaitWithTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("scenario did not finish: %w", err)
	}
	if !node.IsReasonNormal(starter.ExitReason()) {
		return fmt.Errorf("scenario failed: %v", starter.ExitReason())
	}
	fmt.Println("scenario finished: both DOWN notifications reported 'normal'")
	return nil
}

func starterTask(p node.Process) term.Term {
	parent, parentRef, err := p.SpawnMonitor(parentTask)
	if err != nil {
		return err.Error()
	}

	// ask the parent for the pid of its linked child and monitor it too
	p.Send(parent, term.Tuple{term.Atom("get_child"), p.Self()})
	m, err := p.ReceiveWithTimeout(time.Second, matchTagged("child", 2))
	if err != nil {
		return err.Error()
	}
	child := m.(term.Tuple).Element(2).(term.Pid)
	childRef, err := p.Monitor(child)
	if err != nil {
		return err.Error()
	}

	// shut the child down through the parent; the liveness answer inside
	// the 10ms window may be either true or false, it must just not fail
	p.Send(parent, term.Atom("shutdown_child"))
	fmt.Printf("child alive right after shutdown order: %v\n", p.Node().IsProcessAlive(child))

	reason, err := awaitDown(p, childRef)
	if err != nil {
		return err.Error()
	}
	fmt.Printf("child DOWN, reason: %v\n", reason)

	p.Send(parent, term.Atom("shutdown"))
	fmt.Printf("parent alive right after shutdown order: %v\n", p.Node().IsProcessAlive(parent))

	reason, err = awaitDown(p, parentRef)
	if err != nil {
		return err.Error()
	}
	fmt.Printf("parent DOWN, reason: %v\n", reason)
	return nil
}

func parentTask(p node.Process) term.Term {
	p.SetTrapExit(true)
	child, err := p.SpawnLink(childTask)
	if err != nil {
		return err.Error()
	}

	for {
		m, err := p.Receive()
		if err != nil {
			return err.Error()
		}
		switch msg := m.(type) {
		case term.Atom:
			switch msg {
			case "shutdown_child":
				p.Send(child, term.Atom("shutdown"))
			case "shutdown":
				return nil
			}
		case term.Tuple:
			switch msg.Element(1) {
			case term.Atom("get_child"):
				from := msg.Element(2).(term.Pid)
				p.Send(from, term.Tuple{term.Atom("child"), child})
			case term.Atom("EXIT"):
				// trapped: the child's exit arrives as a message, the
				// parent keeps running
				fmt.Printf("parent trapped EXIT from %v, reason: %v\n",
					msg.Element(2), msg.Element(3))
			}
		}
	}
}

func childTask(p node.Process) term.Term {
	_, err := p.Receive(matchAtom("shutdown"))
	if err != nil {
		return err.Error()
	}
	return nil
}

func matchAtom(a term.Atom) node.Pattern {
	return func(m term.Term) bool {
		got, ok := m.(term.Atom)
		return ok && got == a
	}
}

func matchTagged(tag term.Atom, arity int) node.Pattern {
	return func(m term.Term) bool {
		t, ok := m.(term.Tuple)
		return ok && len(t) == arity && t.Element(1) == tag
	}
}

func awaitDown(p node.Process, ref term.Ref) (term.Term, error) {
	m, err := p.ReceiveWithTimeout(time.Second, func(m term.Term) bool {
		t, ok := m.(term.Tuple)
		return ok && len(t) == 5 && t.Element(1) == term.Atom("DOWN") && t.Element(2) == ref
	})
	if err != nil {
		return nil, err
	}
	return m.(term.Tuple).Element(5), nil
}
