package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"CoupleCanvas/internal/board"
	"CoupleCanvas/internal/config"
	"CoupleCanvas/internal/export"
	ccnet "CoupleCanvas/internal/net"
	"CoupleCanvas/internal/presence"
	"CoupleCanvas/internal/render"
	"CoupleCanvas/internal/store"
	"CoupleCanvas/internal/ui"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/google/uuid"
)

const Version = "0.1.0"

func main() {
	usage := fmt.Sprintf(
		`CoupleCanvas, a shared canvas for two (or more).

Opening a share link directly is the same as "open <link>":
    couplecanvas %s://<ip>:<port>/<slug>

Usage:
    couplecanvas host [--addr=<addr>] [--slug=<slug>] [--import=<file>] [--name=<name>] [options]
    couplecanvas serve [--addr=<addr>] [--slug=<slug>] [--import=<file>] [options]
    couplecanvas open <link> [--name=<name>] [options]
    couplecanvas new <server> [--slug=<slug>] [--title=<title>] [options]
    couplecanvas discover [--timeout=<seconds>] [options]
    couplecanvas list <server> [--published] [options]
    couplecanvas export <link> <file> [--width=<px>] [--height=<px>] [options]
    couplecanvas import <link> <file> [options]
    couplecanvas publish <link> [--title=<title>] [--description=<text>] [--unpublish] [options]
    couplecanvas clear <link> [options]
    couplecanvas delete <link> [options]
    couplecanvas -h | --help
    couplecanvas --version

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --config=<path>             Config file [default: %s].
    --user=<user>               User id, overrides the config.
    --v=<level>                 Log verbosity [default: 0].
    --addr=<addr>               Listen address, overrides the config.
    --timeout=<seconds>         How long to browse [default: 3].
    --width=<px>                PNG width [default: 1600].
    --height=<px>               PNG height [default: 1200].`,
		ccnet.LinkScheme,
		config.Path(),
	)

	args := os.Args[1:]
	if len(args) > 0 && strings.HasPrefix(args[0], ccnet.LinkScheme+"://") {
		args = append([]string{"open"}, args...)
	}
	opts, err := docopt.ParseArgs(usage, args, Version)
	if err != nil {
		panic(err)
	}

	verbosity, _ := opts.String("--v")
	flag.Set("logtostderr", "true")
	flag.Set("v", verbosity)
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	configPath, _ := opts.String("--config")
	cfg, err := config.Load(configPath)
	if err != nil {
		glog.Exitf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands := []struct {
		name string
		run  func(context.Context, docopt.Opts, config.Config, string) error
	}{
		{"host", host},
		{"serve", serve},
		{"open", open},
		{"new", newCanvas},
		{"discover", discover},
		{"list", list},
		{"export", exportCanvas},
		{"import", importCanvas},
		{"publish", publish},
		{"clear", clearCanvas},
		{"delete", deleteCanvas},
	}
	for _, c := range commands {
		if on, _ := opts.Bool(c.name); on {
			if err := c.run(ctx, opts, cfg, configPath); err != nil {
				glog.Errorf("%s: %v", c.name, err)
				glog.Flush()
				os.Exit(1)
			}
			return
		}
	}
}

func optString(opts docopt.Opts, key, fallback string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func optInt(opts docopt.Opts, key string, fallback int) int {
	if v, err := strconv.Atoi(optString(opts, key, "")); err == nil {
		return v
	}
	return fallback
}

// userID resolves the local user. A new id is generated and saved the
// first time.
func userID(opts docopt.Opts, cfg config.Config, configPath string) string {
	if id := optString(opts, "--user", cfg.Client.UserID); id != "" {
		return id
	}
	cfg.Client.UserID = uuid.NewString()
	if err := config.Write(configPath, cfg); err != nil {
		glog.Warningf("could not save user id: %v", err)
	}
	return cfg.Client.UserID
}

// hosted is a local server holding one canvas.
type hosted struct {
	store   *store.Memory
	tracker *presence.Tracker
	canvas  store.Canvas
	link    string
	errc    chan error
	stop    func()
}

// startServer serves a fresh in-memory store holding one canvas.
func startServer(ctx context.Context, opts docopt.Opts, cfg config.Config, user string) (*hosted, error) {
	mem := store.NewMemory()
	tracker := presence.NewTracker(cfg.Presence.TokenSecret)
	go tracker.Run(ctx, cfg.Presence.Heartbeat())

	canvas, err := mem.CreateCanvas(ctx, optString(opts, "--slug", ""), user)
	if err != nil {
		return nil, err
	}
	if file := optString(opts, "--import", ""); file != "" {
		if err := importFile(ctx, mem, canvas.ID, file); err != nil {
			return nil, err
		}
	}

	srv := ccnet.NewServer(mem, tracker)
	ready := make(chan net.Addr, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe(ctx, optString(opts, "--addr", cfg.Server.Addr), func(a net.Addr) { ready <- a })
	}()
	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-errc:
		return nil, err
	}
	port := addr.(*net.TCPAddr).Port

	ip, err := ccnet.GetOutgoingIP()
	if err != nil {
		return nil, err
	}
	h := &hosted{
		store:   mem,
		tracker: tracker,
		canvas:  canvas,
		link:    ccnet.ShareLink(ip, port, canvas.Slug),
		errc:    errc,
		stop:    func() {},
	}
	if cfg.Server.Advertise {
		m, err := ccnet.Advertise(cfg.Server.ServiceName, port, canvas.Slug)
		if err != nil {
			glog.Warningf("mDNS disabled: %v", err)
		} else {
			h.stop = func() { m.Shutdown() }
		}
	}
	return h, nil
}

// host serves a canvas and draws on it locally.
func host(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	user := userID(opts, cfg, configPath)
	h, err := startServer(ctx, opts, cfg, user)
	if err != nil {
		return err
	}
	defer h.stop()
	fmt.Println(h.link)
	return runBoard(ctx, h.store, h.tracker, h.tracker, h.canvas, user, optString(opts, "--name", ""), cfg, "Share: "+h.link)
}

// serve runs a headless server until interrupted.
func serve(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	h, err := startServer(ctx, opts, cfg, userID(opts, cfg, configPath))
	if err != nil {
		return err
	}
	defer h.stop()
	fmt.Println(h.link)
	select {
	case <-ctx.Done():
		return <-h.errc
	case err := <-h.errc:
		return err
	}
}

func connect(ctx context.Context, server string) (*ccnet.Client, string, string, error) {
	addr, slug := server, ""
	if strings.HasPrefix(server, ccnet.LinkScheme+"://") {
		var err error
		if addr, slug, err = ccnet.ParseShareLink(server); err != nil {
			return nil, "", "", err
		}
	}
	c, err := ccnet.Dial(ctx, ccnet.WebSocketURL(addr))
	if err != nil {
		return nil, "", "", err
	}
	return c, addr, slug, nil
}

// connectCanvas dials the server of a share link and looks up its canvas.
func connectCanvas(ctx context.Context, link string) (*ccnet.Client, store.Canvas, error) {
	c, _, slug, err := connect(ctx, link)
	if err != nil {
		return nil, store.Canvas{}, err
	}
	if slug == "" {
		c.Close()
		return nil, store.Canvas{}, fmt.Errorf("%s names no canvas", link)
	}
	canvas, err := c.GetCanvasBySlug(ctx, slug)
	if err != nil {
		c.Close()
		return nil, store.Canvas{}, err
	}
	return c, canvas, nil
}

func open(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	link, _ := opts.String("<link>")
	user := userID(opts, cfg, configPath)
	c, canvas, err := connectCanvas(ctx, link)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.AddContributor(ctx, canvas.ID, user); err != nil {
		glog.Warningf("could not join as contributor: %v", err)
	}
	status := "Connected to " + link
	if canvas.Published() {
		status = "Read only: " + canvas.Title
	}
	return runBoard(ctx, c, c, c, canvas, user, optString(opts, "--name", ""), cfg, status)
}

func runBoard(ctx context.Context, st store.Store, pres presence.Service, watcher presence.Watcher, canvas store.Canvas, user, name string, cfg config.Config, status string) error {
	s, err := board.Open(ctx, st, st, board.Options{
		CanvasID:       canvas.ID,
		UserID:         user,
		Viewport:       render.NewViewport(1024, 700, 1),
		MinDistance:    cfg.Canvas.MinPointDistance,
		MatchTolerance: cfg.Canvas.MatchTolerance(),
		PointSlack:     cfg.Canvas.PointSlack,
		UndoneTTL:      cfg.Canvas.UndoneTTL(),
		Streaming:      cfg.Canvas.Streaming,
		StreamInterval: cfg.Canvas.StreamInterval(),
		ReadOnly:       canvas.Published(),
		OnWriteError: func(name string, err error) {
			glog.Warningf("[session] %s not saved: %v", name, err)
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if name == "" {
		name = user
	}
	var room *board.Room
	ui.RunApp(ui.AppOptions{
		Title:        "CoupleCanvas - " + canvas.Slug,
		Session:      s,
		Status:       status,
		DefaultColor: cfg.Canvas.DefaultColor,
		DefaultSize:  cfg.Canvas.DefaultSize,
		JoinRoom: func(onChange func([]presence.Entry)) *board.Room {
			r, err := board.JoinRoom(ctx, pres, watcher, board.RoomOptions{
				RoomID:   canvas.ID,
				UserID:   user,
				Data:     presence.Data{Name: name, Color: cfg.Canvas.DefaultColor},
				Interval: cfg.Presence.Heartbeat(),
				Throttle: cfg.Presence.Throttle(),
				OnChange: onChange,
			})
			if err != nil {
				glog.Warningf("presence unavailable: %v", err)
				return nil
			}
			room = r
			return r
		},
	})
	if room != nil {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := room.Leave(leaveCtx); err != nil {
			glog.Warningf("%v", err)
		}
	}
	return s.Flush(ctx)
}

func newCanvas(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	server, _ := opts.String("<server>")
	c, addr, _, err := connect(ctx, server)
	if err != nil {
		return err
	}
	defer c.Close()
	user := userID(opts, cfg, configPath)
	canvas, err := c.CreateCanvas(ctx, optString(opts, "--slug", ""), user)
	if err != nil {
		return err
	}
	if title := optString(opts, "--title", ""); title != "" {
		if err := c.UpdateCanvasMetadata(ctx, canvas.ID, user, store.Metadata{Title: &title}); err != nil {
			return err
		}
	}
	ip, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, _ := strconv.Atoi(port)
	fmt.Println(ccnet.ShareLink(ip, p, canvas.Slug))
	return nil
}

func discover(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	timeout := time.Duration(optInt(opts, "--timeout", 3)) * time.Second
	found := 0
	err := ccnet.Browse(timeout, func(h ccnet.Host) {
		found++
		host, port, err := net.SplitHostPort(h.Addr)
		if err != nil {
			return
		}
		p, _ := strconv.Atoi(port)
		fmt.Printf("%s\t%s\n", h.Name, ccnet.ShareLink(host, p, h.Slug))
	})
	if err != nil {
		return err
	}
	if found == 0 {
		fmt.Println("no canvases found")
	}
	return nil
}

func list(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	server, _ := opts.String("<server>")
	c, _, _, err := connect(ctx, server)
	if err != nil {
		return err
	}
	defer c.Close()

	show := func(heading string, canvases []store.Canvas) {
		fmt.Println(heading)
		for _, cv := range canvases {
			fmt.Printf("  %s\t%s\t%d contributors\n", cv.Slug, cv.Title, len(cv.Contributors))
		}
	}
	if published, _ := opts.Bool("--published"); published {
		canvases, err := c.ListPublished(ctx, 0)
		if err != nil {
			return err
		}
		show("Published:", canvases)
		return nil
	}
	user := userID(opts, cfg, configPath)
	owned, err := c.ListOwned(ctx, user)
	if err != nil {
		return err
	}
	shared, err := c.ListCollaborations(ctx, user)
	if err != nil {
		return err
	}
	show("Owned:", owned)
	show("Shared with you:", shared)
	return nil
}

// exportCanvas picks the format from the file extension.
func exportCanvas(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	link, _ := opts.String("<link>")
	file, _ := opts.String("<file>")
	c, canvas, err := connectCanvas(ctx, link)
	if err != nil {
		return err
	}
	defer c.Close()
	strokes, err := c.ListByCanvas(ctx, canvas.ID)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(file))
	if ext == ".pdf" {
		return export.ExportPDF(file, strokes, export.PDFOptions{Title: canvas.Title})
	}
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	switch ext {
	case ".png":
		v := render.NewViewport(float64(optInt(opts, "--width", 1600)), float64(optInt(opts, "--height", 1200)), 1)
		err = export.WritePNG(f, strokes, v)
	case ".json":
		err = export.SaveJSON(f, export.NewDocument(&canvas, strokes))
	default:
		err = fmt.Errorf("unknown format %q, use .pdf, .png or .json", ext)
	}
	if err != nil {
		return err
	}
	glog.Infof("exported %d strokes to %s", len(strokes), file)
	return f.Close()
}

func importFile(ctx context.Context, st store.StrokeStore, canvasID, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := export.LoadJSON(f)
	if err != nil {
		return err
	}
	_, err = export.Import(ctx, st, canvasID, doc)
	return err
}

func importCanvas(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	link, _ := opts.String("<link>")
	file, _ := opts.String("<file>")
	c, canvas, err := connectCanvas(ctx, link)
	if err != nil {
		return err
	}
	defer c.Close()
	return importFile(ctx, c, canvas.ID, file)
}

func publish(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	link, _ := opts.String("<link>")
	c, canvas, err := connectCanvas(ctx, link)
	if err != nil {
		return err
	}
	defer c.Close()
	user := userID(opts, cfg, configPath)

	var meta store.Metadata
	if title := optString(opts, "--title", ""); title != "" {
		meta.Title = &title
	}
	if description := optString(opts, "--description", ""); description != "" {
		meta.Description = &description
	}
	if meta.Title != nil || meta.Description != nil {
		if err := c.UpdateCanvasMetadata(ctx, canvas.ID, user, meta); err != nil {
			return err
		}
	}
	unpublish, _ := opts.Bool("--unpublish")
	canvas, err = c.TogglePublish(ctx, canvas.ID, user, !unpublish)
	if errors.Is(err, store.ErrTitleRequired) {
		return fmt.Errorf("%w, pass --title", err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s published=%t\n", canvas.Slug, canvas.Published())
	return nil
}

func clearCanvas(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	link, _ := opts.String("<link>")
	c, canvas, err := connectCanvas(ctx, link)
	if err != nil {
		return err
	}
	defer c.Close()
	n, err := c.DeleteAllByCanvas(ctx, canvas.ID)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d strokes\n", n)
	return nil
}

func deleteCanvas(ctx context.Context, opts docopt.Opts, cfg config.Config, configPath string) error {
	link, _ := opts.String("<link>")
	c, canvas, err := connectCanvas(ctx, link)
	if err != nil {
		return err
	}
	defer c.Close()
	n, err := c.DeleteCanvas(ctx, canvas.ID, userID(opts, cfg, configPath))
	if err != nil {
		return err
	}
	fmt.Printf("deleted %s and %d strokes\n", canvas.Slug, n)
	return nil
}
