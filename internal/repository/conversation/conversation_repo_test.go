package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"botforge/internal/model/conversation"
	"botforge/internal/pkg/id"
	"botforge/internal/pkg/mongodb/mongotest"
)

func TestConversationRepo(t *testing.T) {
	db := mongotest.Database(t)

	Convey("ConversationRepo (MongoDB)", t, func() {
		repo := NewConversationRepo(db)
		ctx := context.Background()
		botID := id.New()

		Convey("同一 session 只创建一个会话，访客信息只补全不覆盖", func() {
			first, err := repo.GetOrCreate(ctx, botID, "tenant", "s1", conversation.Visitor{Name: "Ann"})
			So(err, ShouldBeNil)

			second, err := repo.GetOrCreate(ctx, botID, "tenant", "s1", conversation.Visitor{Name: "Bob", Email: "bob@example.com"})
			So(err, ShouldBeNil)
			So(second.ID, ShouldEqual, first.ID)
			So(second.Visitor.Name, ShouldEqual, "Ann")
			So(second.Visitor.Email, ShouldEqual, "bob@example.com")

			other, err := repo.GetOrCreate(ctx, botID, "tenant", "s2", conversation.Visitor{})
			So(err, ShouldBeNil)
			So(other.ID, ShouldNotEqual, first.ID)
		})

		Convey("并发创建同一 session 得到同一会话", func() {
			var wg sync.WaitGroup
			ids := make([]string, 8)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					conv, err := repo.GetOrCreate(ctx, botID, "tenant", "race", conversation.Visitor{})
					if err == nil {
						ids[i] = conv.ID
					}
				}(i)
			}
			wg.Wait()
			for _, got := range ids {
				So(got, ShouldEqual, ids[0])
			}
		})

		Convey("并发追加得到连续 seq 且时间戳不递减", func() {
			conv, err := repo.GetOrCreate(ctx, botID, "tenant", "append", conversation.Visitor{})
			So(err, ShouldBeNil)

			const writers = 5
			var wg sync.WaitGroup
			errs := make([]error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = repo.Append(ctx, conv.ID, conversation.RoleUser, fmt.Sprintf("msg %d", i))
				}(i)
			}
			wg.Wait()
			for _, err := range errs {
				So(err, ShouldBeNil)
			}

			msgs, err := repo.ListMessages(ctx, conv.ID)
			So(err, ShouldBeNil)
			So(msgs, ShouldHaveLength, writers)
			for i, m := range msgs {
				So(m.Seq, ShouldEqual, int64(i))
				if i > 0 {
					So(m.Timestamp.Before(msgs[i-1].Timestamp), ShouldBeFalse)
				}
			}

			got, err := repo.FindByID(ctx, conv.ID)
			So(err, ShouldBeNil)
			So(got.MessageCount, ShouldEqual, writers)
			So(got.LastMessageAt.Equal(msgs[writers-1].Timestamp), ShouldBeTrue)
		})

		Convey("时钟回拨时时间戳取上一条消息的时间", func() {
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			repo.now = func() time.Time { return base }
			conv, err := repo.GetOrCreate(ctx, botID, "tenant", "clock", conversation.Visitor{})
			So(err, ShouldBeNil)

			first, err := repo.Append(ctx, conv.ID, conversation.RoleUser, "hi")
			So(err, ShouldBeNil)
			So(first.Timestamp.Equal(base), ShouldBeTrue)

			repo.now = func() time.Time { return base.Add(-time.Hour) }
			second, err := repo.Append(ctx, conv.ID, conversation.RoleAssistant, "hello")
			So(err, ShouldBeNil)
			So(second.Seq, ShouldEqual, 1)
			So(second.Timestamp.Equal(base), ShouldBeTrue)

			got, err := repo.FindByID(ctx, conv.ID)
			So(err, ShouldBeNil)
			So(got.MessageCount, ShouldEqual, 2)
			So(got.LastMessageAt.Equal(base), ShouldBeTrue)
		})
	})
}
