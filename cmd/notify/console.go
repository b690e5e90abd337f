package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/locolive/notify/internal/alert"
	"github.com/locolive/notify/internal/notify"
)

var errUnknownCommand = errors.New("unknown command, type help")

const helpText = `commands:
  list            show loaded notifications
  more            load the next page
  refresh         reload the first page
  read <n|id>     mark one notification read
  readall         mark every notification read
  delete <n|id>   delete one notification
  clear           delete every notification
  stats           fetch aggregate counts
  status          show connection state
  quit            exit
`

// console maps typed commands onto a session. Indexes refer to the
// position shown by the last list.
type console struct {
	session *notify.Session
	out     io.Writer
}

func (c *console) execute(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprint(c.out, helpText)
	case "list", "ls":
		c.list()
	case "more":
		if !c.session.State().HasMore {
			fmt.Fprintln(c.out, "no more notifications")
			return false, nil
		}
		if err := c.session.LoadMore(ctx); err != nil {
			return false, err
		}
		c.list()
	case "refresh":
		if err := c.session.FetchPage(ctx, 1); err != nil {
			return false, err
		}
		c.list()
	case "read":
		id, err := c.resolve(args)
		if err != nil {
			return false, err
		}
		return false, c.session.MarkAsRead(id)
	case "readall":
		return false, c.session.MarkAllAsRead()
	case "delete", "rm":
		id, err := c.resolve(args)
		if err != nil {
			return false, err
		}
		return false, c.session.Delete(id)
	case "clear":
		return false, c.session.ClearAll()
	case "stats":
		if err := c.session.FetchStats(ctx); err != nil {
			return false, err
		}
		c.stats()
	case "status":
		st := c.session.State()
		fmt.Fprintf(c.out, "channel %s, %d loaded, %d unread\n", st.ChannelState, len(st.Items), st.UnreadCount)
		if st.SetupErr != nil {
			fmt.Fprintf(c.out, "live updates unavailable: %v\n", st.SetupErr)
		}
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, errUnknownCommand
	}
	return false, nil
}

// resolve turns "3" into the id of the third listed item; anything else is
// taken as an id.
func (c *console) resolve(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected one notification number or id")
	}
	if n, err := strconv.Atoi(args[0]); err == nil {
		items := c.session.State().Items
		if n < 1 || n > len(items) {
			return "", fmt.Errorf("no notification #%d", n)
		}
		return items[n-1].ID, nil
	}
	return args[0], nil
}

func (c *console) list() {
	st := c.session.State()
	if st.FetchErr != nil {
		fmt.Fprintf(c.out, "last fetch failed: %v\n", st.FetchErr)
	}
	if len(st.Items) == 0 {
		fmt.Fprintln(c.out, "no notifications")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for i, n := range st.Items {
		mark := "*"
		if n.IsRead() {
			mark = " "
		}
		title, body := alert.Render(n)
		fmt.Fprintf(tw, "%s %d.\t%s\t%s\t%s\n", mark, i+1, title, body, n.CreatedAt.Local().Format(time.Stamp))
	}
	tw.Flush()
	more := ""
	if st.HasMore {
		more = ", more available"
	}
	fmt.Fprintf(c.out, "%d unread%s\n", st.UnreadCount, more)
}

func (c *console) stats() {
	st := c.session.State().Stats
	if st == nil {
		fmt.Fprintln(c.out, "no stats")
		return
	}
	fmt.Fprintf(c.out, "total %d, unread %d, read %d\n", st.Total, st.Unread, st.Read)
	printCounts(c.out, "by category", st.ByCategory)
	printCounts(c.out, "by type", st.ByType)
}

func printCounts(w io.Writer, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	fmt.Fprintf(w, "%s: %s\n", label, strings.Join(parts, " "))
}
