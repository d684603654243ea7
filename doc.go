// Package shulesync keeps a dashboard's locally cached collections
// consistent with the e-learning platform's REST API and its live push
// stream.
//
// A Session is one role-gated dashboard: it authenticates, performs the
// initial fetch, applies user-triggered mutations through an action
// coordinator, folds push events from co-viewers into the same canonical
// store, and projects the searched/filtered/sorted/paginated view the UI
// renders.
//
//	cfg, _ := config.Load("")
//	sess, _ := shulesync.New(cfg, localstore.NewMemStore())
//	_ = sess.Login(ctx, "edu@school.test", "pw")
//	_ = sess.Start(ctx)
//	defer sess.Close()
//
//	state := view.NewState(cfg.PageSize)
//	page := sess.ContentView(state)
package shulesync
