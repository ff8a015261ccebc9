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

// The communicator package implements the process group through which
// data-parallel workers synchronize.  The primitives are based on the syntax
// of the Message Passing Interface (MPI); a worker always starts with Init
// (joining the group) and ends with Finalize (leaving it).  In between,
// Broadcast replicates the initial parameters of rank 0 and AllReduce sums
// gradients after every backward pass.  Workers in separate processes reach
// each other through a Communicator gRPC service hosted by rank 0; workers in
// one process can share an in-memory group instead.
package communicator

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/golang/protobuf/ptypes/empty"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// communicatorServer implements the server API for Communicator service.
type communicatorServer struct {
	UnimplementedCommunicatorServer
	worldSize int
	done      chan<- os.Signal
	once      sync.Once
	mu        sync.Mutex
	joined    []bool
	finalized []bool
	left      int
	r         *rendezvous
}

// NewCommunicatorServer creates a new communicator server for a group of the
// given size.  done is closed once every worker has finalized.
func NewCommunicatorServer(done chan<- os.Signal, worldSize int) CommunicatorServer {
	return &communicatorServer{
		worldSize: worldSize,
		done:      done,
		joined:    make([]bool, worldSize),
		finalized: make([]bool, worldSize),
		r:         newRendezvous(worldSize),
	}
}

// NewServer creates a gRPC server hosting a Communicator service for a group
// of the given size.  The server stops gracefully once done is closed or
// receives a signal.
func NewServer(done chan os.Signal, worldSize int) *grpc.Server {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_recovery.UnaryServerInterceptor(),
		),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)

	go func(done <-chan os.Signal, server *grpc.Server) {
		<-done
		server.GracefulStop()
	}(done, server)

	RegisterCommunicatorServer(server, NewCommunicatorServer(done, worldSize))

	return server
}

// Init joins a worker to the group and blocks until every worker joined.
func (c *communicatorServer) Init(ctx context.Context, in *InitRequest) (*empty.Empty, error) {
	glog.Infof("Init called from rank %d with world size %d", in.GetRank(), in.GetWorldSize())

	if int(in.GetWorldSize()) != c.worldSize {
		return nil, status.Errorf(codes.InvalidArgument, "world size %d, group has %d workers", in.GetWorldSize(), c.worldSize)
	}
	rank := int(in.GetRank())
	if rank < 0 || c.worldSize <= rank {
		return nil, status.Errorf(codes.InvalidArgument, "rank %d out of range for world size %d", rank, c.worldSize)
	}

	c.mu.Lock()
	if c.joined[rank] {
		c.mu.Unlock()
		return nil, status.Errorf(codes.AlreadyExists, "rank %d already joined", rank)
	}
	c.joined[rank] = true
	c.mu.Unlock()

	if _, err := c.r.exchange(ctx, request{rank: rank, op: OpBarrier}); err != nil {
		return nil, toStatus(err)
	}
	if rank == 0 {
		glog.Infof("all %d workers joined", c.worldSize)
	}
	return new(empty.Empty), nil
}

// Collective runs one collective operation.
func (c *communicatorServer) Collective(ctx context.Context, in *CollectiveRequest) (*CollectiveResponse, error) {
	glog.V(2).Infof("%s called from rank %d with %d elements", in.GetOp(), in.GetRank(), len(in.GetData()))

	if in.GetOp() == OpFinalize {
		return nil, status.Error(codes.InvalidArgument, "use Finalize to leave the group")
	}
	data, err := c.r.exchange(ctx, request{
		rank: int(in.GetRank()),
		op:   in.GetOp(),
		root: int(in.GetRoot()),
		data: in.GetData(),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &CollectiveResponse{Data: data}, nil
}

// Finalize removes a worker from the group.  A worker that leaves while the
// others are still running aborts their collectives, but the server keeps
// serving until every worker finalized so that survivors can leave too.
func (c *communicatorServer) Finalize(ctx context.Context, in *FinalizeRequest) (*empty.Empty, error) {
	glog.Infof("Finalize called from rank %d", in.GetRank())
	defer glog.Flush()

	rank := int(in.GetRank())
	if rank < 0 || c.worldSize <= rank {
		return nil, status.Errorf(codes.InvalidArgument, "rank %d out of range for world size %d", rank, c.worldSize)
	}

	_, err := c.r.exchange(ctx, request{rank: rank, op: OpFinalize})

	c.mu.Lock()
	if !c.finalized[rank] {
		c.finalized[rank] = true
		c.left++
	}
	last := c.left == c.worldSize
	c.mu.Unlock()
	if last {
		c.once.Do(c.close)
	}

	if err != nil {
		return nil, toStatus(err)
	}
	return new(empty.Empty), nil
}

// close notifies the serving goroutine that the group has ended.
func (c *communicatorServer) close() {
	signal.Stop(c.done)
	close(c.done)
}

// toStatus maps collective errors onto status codes that fromStatus maps back.
func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrMismatch):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ErrClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus recovers the collective error carried by a status.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Aborted:
		return withStatusMessage(ErrMismatch, status.Convert(err).Message())
	case codes.FailedPrecondition:
		return withStatusMessage(ErrClosed, status.Convert(err).Message())
	default:
		return err
	}
}

// withStatusMessage attaches the context of a status message to sentinel.
// The message already ends with the text of sentinel, which is not repeated.
func withStatusMessage(sentinel error, msg string) error {
	msg = strings.TrimSuffix(msg, ": "+sentinel.Error())
	if msg == sentinel.Error() {
		return sentinel
	}
	return errors.WithMessage(sentinel, msg)
}
