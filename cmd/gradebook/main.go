// Package main is the gradebook terminal client: a cached, rate-limited
// front end for the school grade service. Reads go through the query
// caches, grade edits go through the mutation coordinator, and report
// downloads go through the polling delivery flow.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/school-hub/gradebook/config"
	"github.com/school-hub/gradebook/internal/application/command"
	"github.com/school-hub/gradebook/internal/application/query"
	"github.com/school-hub/gradebook/internal/application/saga"
	"github.com/school-hub/gradebook/internal/application/view"
	"github.com/school-hub/gradebook/internal/domain/grade"
	"github.com/school-hub/gradebook/internal/domain/session"
	"github.com/school-hub/gradebook/internal/domain/shared"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
	filestore "github.com/school-hub/gradebook/internal/infrastructure/persistence/file"
	redisstore "github.com/school-hub/gradebook/internal/infrastructure/persistence/redis"
	"github.com/school-hub/gradebook/pkg/logger"
	"github.com/school-hub/gradebook/pkg/metrics"
)

const usage = `gradebook - school grade service client

Usage:
  gradebook <command> [flags]

Commands:
  login      -user U -pass P        authenticate and persist the session
  register   -user U -pass P -role R   create an account (role: student, teacher)
  logout                            clear the session and all cached data
  classes                           list classes
  students   [-class NAME]          list students
  grades     -student N [flags]     show a grade page
  add        -student N -subject S -score X
  update     -grade N -student N -subject S -score X
  delete     -grade N -student N
  stats      -student N             show performance statistics
  reports    -student N             list generated reports
  report     -student N             generate and download a PDF report
  watch      -student N [flags]     follow live updates of a grade page
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("command required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slogger := setupSlog(cfg)
	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel))

	app, cleanup, err := buildApp(ctx, cfg, slogger)
	if err != nil {
		return err
	}
	defer cleanup()

	cmd, rest := args[0], args[1:]
	if err := app.dispatch(ctx, cmd, rest); err != nil {
		report(log, cmd, err)
		return err
	}
	return nil
}

func setupSlog(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))
	slog.SetDefault(log)
	return log
}

// report translates an error into the line a user sees. Server-provided
// detail wins; auth failures additionally force a logout.
func report(log *logger.Logger, cmd string, err error) {
	var reqErr *shared.RequestError
	switch {
	case errors.As(err, &reqErr):
		log.Error(reqErr.Message(), logger.Operation(cmd))
	case shared.IsValidation(err):
		log.Error(err.Error(), logger.Operation(cmd))
	default:
		log.Error("command failed", logger.Operation(cmd), logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

type app struct {
	cfg      config.Config
	holder   *session.Holder
	client   *schoolapi.Client
	queries  *query.Service
	commands *command.Coordinator
	delivery *saga.Delivery
	logger   *slog.Logger
}

func buildApp(ctx context.Context, cfg config.Config, slogger *slog.Logger) (*app, func(), error) {
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	holder := session.NewHolder(store, slogger)
	if err := holder.Init(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}

	clientCfg := schoolapi.DefaultClientConfig(cfg.API.BaseURL)
	clientCfg.Timeout = cfg.API.Timeout
	clientCfg.Logger = slogger
	clientCfg.Debug = cfg.App.Debug
	if cfg.API.RateLimitRPS > 0 {
		clientCfg.RateLimiterConfig.RequestsPerSecond = cfg.API.RateLimitRPS
	}
	if cfg.API.RateLimitBurst > 0 {
		clientCfg.RateLimiterConfig.BurstSize = cfg.API.RateLimitBurst
	}
	client := schoolapi.NewClient(clientCfg, holder)

	m := metrics.NewManager(
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithEnabled(cfg.Metrics.Enabled),
	)

	queries := query.NewService(ctx, client, query.Config{
		FreshFor:     cfg.Cache.FreshFor,
		RetainFor:    cfg.Cache.RetainFor,
		FetchRetries: cfg.Cache.FetchRetries,
		RetryDelay:   cfg.Cache.RetryDelay,
		Logger:       slogger,
		Metrics:      m,
	})
	holder.OnLogout(queries.ClearAll)

	commands := command.NewCoordinator(client, queries, slogger, m)

	deliveryCfg := saga.DefaultDeliveryConfig(cfg.App.DownloadDir)
	deliveryCfg.MaxAttempts = cfg.Report.MaxAttempts
	deliveryCfg.PollInterval = cfg.Report.PollInterval
	deliveryCfg.Logger = slogger
	deliveryCfg.Metrics = m
	delivery := saga.NewDelivery(client, queries, deliveryCfg)

	return &app{
		cfg:      cfg,
		holder:   holder,
		client:   client,
		queries:  queries,
		commands: commands,
		delivery: delivery,
		logger:   slogger,
	}, closeStore, nil
}

func buildStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	if cfg.Session.Backend == config.SessionBackendRedis {
		store, err := redisstore.NewSessionStore(ctx, cfg.Redis.StoreConfig())
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	path := cfg.Session.FilePath
	if path == "" {
		var err error
		path, err = filestore.DefaultPath()
		if err != nil {
			return nil, nil, err
		}
	}
	return filestore.NewSessionStore(path), func() {}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "register":
		return a.register(ctx, args)
	case "logout":
		return a.holder.Logout(ctx)
	case "classes":
		return a.listClasses(ctx)
	case "students":
		return a.listStudents(ctx, args)
	case "grades":
		return a.showGrades(ctx, args)
	case "add", "update":
		return a.saveGrade(ctx, cmd, args)
	case "delete":
		return a.deleteGrade(ctx, args)
	case "stats":
		return a.showStats(ctx, args)
	case "reports":
		return a.listReports(ctx, args)
	case "report":
		return a.deliverReport(ctx, args)
	case "watch":
		return a.watchGrades(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	user := fs.String("user", "", "username")
	pass := fs.String("pass", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *pass == "" {
		return errors.New("login requires -user and -pass")
	}

	token, err := a.client.Login(ctx, *user, *pass)
	if err != nil {
		return err
	}

	// Resolve the identity behind the fresh token before anything is
	// persisted; only the verified session ever reaches the store.
	me, err := a.client.WithTokens(schoolapi.StaticTokens(token)).Me(ctx)
	if err != nil {
		return err
	}
	sess, err := schoolapi.NewMapper().SessionFromMe(token, me)
	if err != nil {
		return err
	}
	if err := a.holder.Establish(ctx, sess); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", sess.Role)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	user := fs.String("user", "", "username")
	pass := fs.String("pass", "", "password")
	role := fs.String("role", string(session.RoleStudent), "account role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *pass == "" {
		return errors.New("register requires -user and -pass")
	}
	if _, ok := session.ParseRole(*role); !ok {
		return fmt.Errorf("unknown role %q", *role)
	}

	result, err := a.client.Register(ctx, *user, *pass, *role)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s as %s\n", result.Username, result.Role)
	return nil
}

func (a *app) listClasses(ctx context.Context) error {
	classes, err := a.queries.Classes(ctx)
	if err != nil {
		return a.checkAuth(ctx, err)
	}
	for _, c := range classes {
		fmt.Printf("%4d  %s\n", c.ID, c.Name)
	}
	return nil
}

func (a *app) listStudents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("students", flag.ContinueOnError)
	class := fs.String("class", "", "filter by class name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	students, err := a.queries.Students(ctx, view.StudentsKey{ClassName: *class})
	if err != nil {
		return a.checkAuth(ctx, err)
	}
	for _, s := range students {
		fmt.Printf("%4d  %-24s %s\n", s.ID, s.Name, s.ClassName)
	}
	return nil
}

func gradesKeyFlags(fs *flag.FlagSet) (student *int, subject, sortBy, order *string, page *int) {
	student = fs.Int("student", 0, "student id")
	subject = fs.String("subject", "", "filter by subject")
	sortBy = fs.String("sort", view.SortByDate, "sort field: date, subject, score")
	order = fs.String("order", view.SortDesc, "sort order: asc, desc")
	page = fs.Int("page", 1, "page number")
	return
}

func (a *app) showGrades(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grades", flag.ContinueOnError)
	student, subject, sortBy, order, page := gradesKeyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := view.GradesKey{
		StudentID:     *student,
		FilterSubject: grade.Subject(*subject),
		SortBy:        *sortBy,
		SortOrder:     *order,
		Page:          *page,
	}
	col, err := a.queries.Grades(ctx, key)
	if err != nil {
		return a.checkAuth(ctx, err)
	}
	printCollection(col)
	return nil
}

func (a *app) saveGrade(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	student := fs.Int("student", 0, "student id")
	gradeID := fs.Int("grade", 0, "grade id (update only)")
	subject := fs.String("subject", "", "subject")
	score := fs.String("score", "", "score 1-5")
	if err := fs.Parse(args); err != nil {
		return err
	}

	parsed, err := grade.ParseScore(*score)
	if err != nil {
		return err
	}
	if cmd == "update" && *gradeID == 0 {
		return errors.New("update requires -grade")
	}

	in := command.SaveGradeInput{
		StudentID: *student,
		Subject:   grade.Subject(*subject),
		Score:     parsed,
		Key:       defaultGradesKey(*student),
	}
	if cmd == "update" {
		in.GradeID = *gradeID
	}

	col, err := a.commands.SaveGrade(ctx, in)
	if err != nil {
		return a.checkAuth(ctx, err)
	}
	printCollection(col)
	return nil
}

func (a *app) deleteGrade(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	student := fs.Int("student", 0, "student id")
	gradeID := fs.Int("grade", 0, "grade id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	col, err := a.commands.DeleteGrade(ctx, *student, *gradeID, defaultGradesKey(*student))
	if err != nil {
		return a.checkAuth(ctx, err)
	}
	printCollection(col)
	return nil
}

func (a *app) showStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	student := fs.Int("student", 0, "student id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	stats, err := a.queries.Stats(ctx, view.StatsKey{StudentID: *student}, true)
	if err != nil {
		return a.checkAuth(ctx, err)
	}

	fmt.Printf("average: %.2f\n", stats.AverageScore)
	subjects := make([]string, 0, len(stats.AverageBySubject))
	for s := range stats.AverageBySubject {
		subjects = append(subjects, string(s))
	}
	sort.Strings(subjects)
	for _, s := range subjects {
		fmt.Printf("  %-14s %.2f\n", s, stats.AverageBySubject[grade.Subject(s)])
	}
	if stats.Recommendations != "" {
		fmt.Printf("recommendations: %s\n", stats.Recommendations)
	}
	return nil
}

func (a *app) listReports(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reports", flag.ContinueOnError)
	student := fs.Int("student", 0, "student id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reports, err := a.queries.Reports(ctx, view.ReportsKey{StudentID: *student})
	if err != nil {
		return a.checkAuth(ctx, err)
	}
	for _, r := range reports {
		fmt.Printf("%4d  %s  %s\n", r.ID, r.GeneratedAt.Format("2006-01-02 15:04"), r.Summary)
	}
	return nil
}

func (a *app) deliverReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	student := fs.Int("student", 0, "student id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("generating report...")
	job, err := a.delivery.Deliver(ctx, *student)
	if err != nil {
		if errors.Is(err, shared.ErrReportTimeout) {
			fmt.Println("report was not ready in time, try `gradebook report` again in a moment")
			return err
		}
		return a.checkAuth(ctx, err)
	}
	fmt.Printf("report saved to %s (%d attempts)\n", job.Path, job.Attempts)
	return nil
}

// watchGrades subscribes to one grade page and prints every cache
// update until interrupted.
func (a *app) watchGrades(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	student, subject, sortBy, order, page := gradesKeyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := view.GradesKey{
		StudentID:     *student,
		FilterSubject: grade.Subject(*subject),
		SortBy:        *sortBy,
		SortOrder:     *order,
		Page:          *page,
	}

	sub := a.queries.SubscribeGrades(key)
	defer sub.Close()

	// Prime the entry; updates arrive on the subscription.
	if _, err := a.queries.Grades(ctx, key); err != nil {
		return a.checkAuth(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-sub.Updates():
			if res.Err != nil {
				fmt.Printf("-- refresh failed: %v\n", res.Err)
				continue
			}
			fmt.Printf("-- %s\n", res.UpdatedAt.Format(time.TimeOnly))
			printCollection(res.Data)
		}
	}
}

// checkAuth forces a logout when the server rejected the token, so the
// next command starts from a clean state.
func (a *app) checkAuth(ctx context.Context, err error) error {
	if shared.IsAuth(err) {
		_ = a.holder.Logout(ctx)
	}
	return err
}

// defaultGradesKey is the page a mutation's response is written to when
// the CLI has no richer view state: page 1, newest first, no filter.
func defaultGradesKey(studentID int) view.GradesKey {
	return view.GradesKey{
		StudentID: studentID,
		SortBy:    view.SortByDate,
		SortOrder: view.SortDesc,
		Page:      1,
	}
}

func printCollection(col grade.Collection) {
	subjects := make([]string, 0, len(col.BySubject))
	for s := range col.BySubject {
		subjects = append(subjects, string(s))
	}
	sort.Strings(subjects)

	for _, s := range subjects {
		fmt.Println(s)
		for _, e := range col.BySubject[grade.Subject(s)] {
			fmt.Printf("  %4d  score %d  %s\n", e.ID, e.Score, e.Date.Format("2006-01-02"))
		}
	}
	if col.TotalPages > 1 {
		fmt.Printf("(%d pages)\n", col.TotalPages)
	}
	if len(subjects) == 0 {
		fmt.Println("no grades")
	}
}
