/*
Package tasks runs the periodic background work of the bot.

A Task names itself, tells the Manager how long to wait between runs and does
its work in Execute. The Manager keeps registered tasks in a concurrent map and
their next run in a util.DeadlineHeap. Run pops due tasks, executes them on an
errgroup and puts them back into the heap once they finished, so a task never
runs twice at the same time. A failing task is logged and tried again on its
normal schedule.

Tasks can be added and removed while the manager runs. This is how the lorax
module gets one task per guild with an active event:

	m := tasks.NewManager()
	m.Add(lorax.NewEventTask(guildID, handler, notifier))
	go m.Run(ctx)
	...
	m.Remove(lorax.TaskName(guildID))
*/
package tasks
