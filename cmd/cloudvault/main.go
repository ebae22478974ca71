// CloudVault command-line client.
//
// Sub-commands:
//
//	cloudvault login              Log in with email/password
//	cloudvault google-login       Log in with a Google ID token
//	cloudvault register           Create an account
//	cloudvault activate           Activate an account with an emailed token
//	cloudvault resend-activation  Request a new activation email
//	cloudvault forgot-password    Request a password reset email
//	cloudvault reset-password     Set a new password with a reset token
//	cloudvault whoami             Show the current profile and quota
//	cloudvault logout             Clear the stored session
//	cloudvault browse             Interactive folder browser (default)
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/cloudvault/cloudvault-go/internal/config"
	"github.com/cloudvault/cloudvault-go/internal/logging"
	"github.com/cloudvault/cloudvault-go/pkg/drive"
	"github.com/cloudvault/cloudvault-go/pkg/localcache"
	"github.com/cloudvault/cloudvault-go/pkg/models"
	"github.com/cloudvault/cloudvault-go/pkg/session"
	"github.com/cloudvault/cloudvault-go/pkg/upload"
)

func main() {
	cfg := config.Load()
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintln(os.Stderr, "logging init failed:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	cmd := "browse"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "login":
		cmdLogin(cfg, args)
	case "google-login":
		cmdGoogleLogin(cfg, args)
	case "register":
		cmdRegister(cfg, args)
	case "activate":
		cmdActivate(cfg, args)
	case "resend-activation":
		cmdResendActivation(cfg, args)
	case "forgot-password":
		cmdForgotPassword(cfg, args)
	case "reset-password":
		cmdResetPassword(cfg, args)
	case "whoami":
		cmdWhoami(cfg)
	case "logout":
		cmdLogout(cfg)
	case "browse":
		cmdBrowse(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		os.Exit(2)
	}
}

func newSession(cfg *config.Config) *session.Store {
	return session.New(session.Config{
		BaseURL:   cfg.ServerURL,
		Timeout:   cfg.Timeout,
		TokenPath: cfg.TokenFile,
		Logger:    logging.L(),
	})
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func prompt(label string) string {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptPassword(label string) string {
	fmt.Print(label)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		// Not a terminal; fall back to a plain line read.
		return prompt("")
	}
	return strings.TrimSpace(string(pw))
}

func cmdLogin(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Account email")
	fs.Parse(args)

	if *email == "" {
		*email = prompt("Email: ")
	}
	password := promptPassword("Password: ")

	sess := newSession(cfg)
	ctx := context.Background()
	if err := sess.Login(ctx, *email, password); err != nil {
		if session.NeedsActivation(err) {
			fmt.Println("This account has not been activated yet.")
			if strings.HasPrefix(strings.ToLower(prompt("Resend activation email? [y/N] ")), "y") {
				msg, rerr := sess.ResendActivation(ctx, *email)
				if rerr != nil {
					fatal("resend failed", rerr)
				}
				fmt.Println(msg)
			}
			os.Exit(1)
		}
		fatal("login failed", err)
	}
	if u := sess.User(); u != nil {
		fmt.Printf("Logged in as %s (%s)\n", u.FullName(), u.Email)
	}
}

func cmdGoogleLogin(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("google-login", flag.ExitOnError)
	credential := fs.String("credential", "", "Google ID token")
	fs.Parse(args)

	if *credential == "" {
		*credential = prompt("Google ID token: ")
	}

	sess := newSession(cfg)
	if err := sess.LoginWithGoogle(context.Background(), *credential); err != nil {
		fatal("google login failed", err)
	}
	if u := sess.User(); u != nil {
		fmt.Printf("Logged in as %s (%s)\n", u.FullName(), u.Email)
	}
}

func cmdRegister(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	first := fs.String("first-name", "", "First name")
	last := fs.String("last-name", "", "Last name")
	email := fs.String("email", "", "Account email")
	fs.Parse(args)

	if *first == "" {
		*first = prompt("First name: ")
	}
	if *last == "" {
		*last = prompt("Last name: ")
	}
	if *email == "" {
		*email = prompt("Email: ")
	}
	password := promptPassword("Password: ")

	sess := newSession(cfg)
	msg, err := sess.Register(context.Background(), *first, *last, *email, password)
	if err != nil {
		fatal("registration failed", err)
	}
	fmt.Println(msg)
}

func cmdActivate(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("activate", fmt.Errorf("usage: cloudvault activate <token>"))
	}
	sess := newSession(cfg)
	msg, err := sess.Activate(context.Background(), args[0])
	if err != nil {
		fatal("activation failed", err)
	}
	fmt.Println(msg)
}

func cmdResendActivation(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("resend-activation", fmt.Errorf("usage: cloudvault resend-activation <email>"))
	}
	sess := newSession(cfg)
	msg, err := sess.ResendActivation(context.Background(), args[0])
	if err != nil {
		fatal("resend failed", err)
	}
	fmt.Println(msg)
}

func cmdForgotPassword(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("forgot-password", fmt.Errorf("usage: cloudvault forgot-password <email>"))
	}
	sess := newSession(cfg)
	msg, err := sess.ForgotPassword(context.Background(), args[0])
	if err != nil {
		fatal("request failed", err)
	}
	fmt.Println(msg)
}

func cmdResetPassword(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("reset-password", fmt.Errorf("usage: cloudvault reset-password <token>"))
	}
	password := promptPassword("New password: ")
	sess := newSession(cfg)
	msg, err := sess.ResetPassword(context.Background(), args[0], password)
	if err != nil {
		fatal("reset failed", err)
	}
	fmt.Println(msg)
}

func cmdWhoami(cfg *config.Config) {
	sess := newSession(cfg)
	if !sess.Restore(context.Background()) {
		fmt.Println("Not logged in.")
		os.Exit(1)
	}
	u := sess.User()
	fmt.Printf("%s <%s>\n", u.FullName(), u.Email)
	if u.StorageLimit > 0 {
		fmt.Printf("Storage: %s of %s used\n",
			models.FormatSize(u.StorageUsed), models.FormatSize(u.StorageLimit))
	} else {
		fmt.Printf("Storage: %s used\n", models.FormatSize(u.StorageUsed))
	}
}

func cmdLogout(cfg *config.Config) {
	sess := newSession(cfg)
	sess.Logout()
	fmt.Println("Logged out.")
}

func cmdBrowse(cfg *config.Config) {
	ctx := context.Background()
	sess := newSession(cfg)
	if !sess.Restore(ctx) {
		fmt.Println("Not logged in. Run `cloudvault login` first.")
		os.Exit(1)
	}

	files, err := localcache.New(cfg.CacheDir, cfg.CacheMaxSize)
	if err != nil {
		fatal("cache init failed", err)
	}

	eng := drive.New(sess,
		drive.WithLogger(logging.L()),
		drive.WithDownloadCache(files),
		drive.WithUploadProgress(func(t upload.Task) {
			if t.Status == upload.StatusInProgress {
				fmt.Printf("\r%s: %3d%%", t.FileName, t.Progress)
			}
		}),
	)

	if err := eng.Refresh(ctx); err != nil {
		logging.L().Warn("initial folder load failed", zap.Error(err))
	}

	fmt.Println("CloudVault. Type `help` for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if !sess.Authenticated() {
			fmt.Println("Session expired. Run `cloudvault login` again.")
			return
		}
		fmt.Printf("%s> ", eng.Nav().Current().Path)
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, rest := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

		switch cmd {
		case "ls":
			printView(eng)
		case "cd":
			browseEnter(ctx, eng, rest)
		case "back":
			reportErr(eng.Back(ctx))
		case "root":
			reportErr(eng.GoToRoot(ctx))
		case "search":
			eng.Search(rest)
			printView(eng)
		case "clear":
			eng.Search("")
			printView(eng)
		case "upload":
			browseUpload(ctx, eng, fields[1:])
		case "mkdir":
			if _, err := eng.CreateFolder(ctx, rest); err != nil {
				fmt.Println("mkdir failed:", err)
			}
		case "rm":
			browseDelete(ctx, eng, rest)
		case "get":
			browseDownload(ctx, eng, rest)
		case "quota":
			fmt.Printf("Storage used: %s\n", models.FormatSize(eng.Session().StorageUsed()))
		case "help":
			fmt.Println("ls | cd <folder> | back | root | search <q> | clear |" +
				" upload <path...> | mkdir <name> | rm <name> | get <name> | quota | quit")
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}

func reportErr(err error) {
	if err != nil {
		fmt.Println("load failed:", err)
	}
}

func printView(eng *drive.Engine) {
	view := eng.Visible()
	for _, f := range view.Folders {
		fmt.Printf("  %-40s <folder>\n", f.Name+"/")
	}
	for _, f := range view.Files {
		fmt.Printf("  %-40s %s\n", f.Name, models.FormatSize(f.Size))
	}
	if view.Len() == 0 {
		fmt.Println("  (empty)")
	}
}

func browseEnter(ctx context.Context, eng *drive.Engine, name string) {
	for _, f := range eng.Visible().Folders {
		if f.Name == name {
			reportErr(eng.EnterFolder(ctx, f))
			return
		}
	}
	fmt.Println("no such folder:", name)
}

func browseUpload(ctx context.Context, eng *drive.Engine, paths []string) {
	var sources []upload.Source
	for _, p := range paths {
		src, err := upload.FileSource(p)
		if err != nil {
			fmt.Println("skipping:", err)
			continue
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return
	}
	for _, r := range eng.Upload(ctx, sources) {
		fmt.Println()
		if r.Task.Status == upload.StatusDone {
			fmt.Printf("%s uploaded\n", r.Task.FileName)
		} else {
			fmt.Printf("%s failed: %v\n", r.Task.FileName, r.Task.Err)
		}
	}
}

func browseDelete(ctx context.Context, eng *drive.Engine, name string) {
	view := eng.Visible()
	for _, n := range append(append([]*models.Node(nil), view.Folders...), view.Files...) {
		if n.Name == name {
			if err := eng.Delete(ctx, n); err != nil {
				fmt.Println("delete failed:", err)
			}
			return
		}
	}
	fmt.Println("no such item:", name)
}

func browseDownload(ctx context.Context, eng *drive.Engine, name string) {
	for _, f := range eng.Visible().Files {
		if f.Name == name {
			path, err := eng.Download(ctx, f.ID)
			if err != nil {
				fmt.Println("download failed:", err)
				return
			}
			fmt.Println("saved to", path)
			return
		}
	}
	fmt.Println("no such file:", name)
}
