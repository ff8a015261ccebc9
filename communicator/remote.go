// Copyright 2022 Sogang University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package communicator

import (
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// remoteGroup is a group whose rendezvous is a Communicator service.
type remoteGroup struct {
	rank   int
	size   int
	conn   *grpc.ClientConn
	client CommunicatorClient
}

// Dial joins the process group served at target as the worker with the given
// rank.  It blocks until every worker joined; calls wait for the server to
// come up rather than failing fast, so workers may start in any order.
func Dial(ctx context.Context, target string, rank, worldSize int, opts ...grpc.DialOption) (Group, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.WaitForReady(true)),
	}, opts...)

	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}

	client := NewCommunicatorClient(conn)
	glog.Infof("rank %d joining process group of %d at %s", rank, worldSize, target)
	if _, err = client.Init(ctx, &InitRequest{Rank: int64(rank), WorldSize: int64(worldSize)}); err != nil {
		conn.Close()
		return nil, errors.Wrap(fromStatus(err), "join process group")
	}

	return &remoteGroup{
		rank:   rank,
		size:   worldSize,
		conn:   conn,
		client: client,
	}, nil
}

func (g *remoteGroup) Rank() int {
	return g.rank
}

func (g *remoteGroup) Size() int {
	return g.size
}

func (g *remoteGroup) collective(ctx context.Context, op Op, root int, buf []float64) error {
	r, err := g.client.Collective(ctx, &CollectiveRequest{
		Rank: int64(g.rank),
		Op:   op,
		Root: int64(root),
		Data: buf,
	})
	if err != nil {
		return fromStatus(err)
	}
	if op != OpBarrier {
		if len(r.GetData()) != len(buf) {
			return errors.Wrapf(ErrMismatch, "%s returned %d elements for %d", op, len(r.GetData()), len(buf))
		}
		copy(buf, r.GetData())
	}
	return nil
}

func (g *remoteGroup) Barrier(ctx context.Context) error {
	return g.collective(ctx, OpBarrier, 0, nil)
}

func (g *remoteGroup) Broadcast(ctx context.Context, root int, buf []float64) error {
	return g.collective(ctx, OpBroadcast, root, buf)
}

func (g *remoteGroup) AllReduce(ctx context.Context, buf []float64) error {
	return g.collective(ctx, OpAllReduce, 0, buf)
}

// Close leaves the group.  It does not wait for an unreachable server: a
// server that is gone has nothing left to tear down.
func (g *remoteGroup) Close() error {
	defer g.conn.Close()

	_, err := g.client.Finalize(context.Background(), &FinalizeRequest{Rank: int64(g.rank)}, grpc.WaitForReady(false))
	if status.Code(err) == codes.Unavailable {
		glog.Warningf("rank %d left an unreachable process group: %v", g.rank, err)
		return nil
	}
	if err = fromStatus(err); errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
