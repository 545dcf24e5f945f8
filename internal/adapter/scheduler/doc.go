// Package scheduler запускает проходы бэкапа внутри процесса по cron-расписанию
// (github.com/robfig/cron/v3).
//
// Расписание считается в UTC. PassSpec выбирает ежечасный запуск либо
// ежедневный запуск в слот-час деплоймента, чтобы независимые деплойменты
// не обращались к API одновременно.
//
//	s := scheduler.New(ctx, scheduler.Config{Logger: log})
//	_, err := s.AddJob(scheduler.PassSpec(useSlot, token), runPass, scheduler.JobOptions{
//		Name:          "backup-pass",
//		Timeout:       30 * time.Minute,
//		OverlapPolicy: scheduler.SkipIfRunning,
//	})
//	s.Start()
//	defer s.Stop(context.Background())
package scheduler
