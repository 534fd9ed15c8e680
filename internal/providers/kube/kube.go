// ABOUTME: Kubernetes inventory provider for image discovery.
// ABOUTME: Lists running pods across namespaces and extracts distinct container image references.

package kube

import (
	"context"
	"fmt"

	"github.com/jfeddern/TrivyScope/internal/types"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// systemNamespaces are excluded from discovery unless explicitly targeted
// with a namespace filter.
var systemNamespaces = map[string]bool{
	"kube-system":     true,
	"kube-public":     true,
	"kube-node-lease": true,
}

// Provider implements InventoryProvider against a live Kubernetes cluster.
type Provider struct {
	clientset       kubernetes.Interface
	namespaceFilter string
	logger          *logrus.Logger
}

// NewProvider creates a cluster inventory provider, trying in-cluster config
// first and falling back to the local kubeconfig for development.
func NewProvider(namespaceFilter string, logger *logrus.Logger) (*Provider, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		logger.Info("In-cluster config not available, trying kubeconfig")
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	logger.Info("Successfully connected to Kubernetes cluster")
	return &Provider{
		clientset:       clientset,
		namespaceFilter: namespaceFilter,
		logger:          logger,
	}, nil
}

// NewProviderWithClientset wires an existing clientset, used by tests.
func NewProviderWithClientset(clientset kubernetes.Interface, namespaceFilter string, logger *logrus.Logger) *Provider {
	return &Provider{
		clientset:       clientset,
		namespaceFilter: namespaceFilter,
		logger:          logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "kubernetes"
}

// ListSubjects returns the distinct (image, namespace) pairs across running
// pods, including init and ephemeral containers. System namespaces are
// always skipped, even when the namespace filter names one.
func (p *Provider) ListSubjects(ctx context.Context) ([]types.ScanSubject, error) {
	logger := p.logger.WithField("operation", "discover_images")

	pods, err := p.clientset.CoreV1().Pods(p.namespaceFilter).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, types.NewScanError(types.ErrorKindSourceUnavailable,
			fmt.Errorf("failed to list pods: %w", err))
	}

	seen := make(map[string]bool)
	var subjects []types.ScanSubject

	for _, pod := range pods.Items {
		if systemNamespaces[pod.Namespace] {
			continue
		}

		for _, image := range imagesFromPodSpec(pod.Spec) {
			subject := types.ScanSubject{
				Identity:   image,
				Scope:      pod.Namespace,
				SourceKind: types.SourceKindImage,
			}
			if seen[subject.Key()] {
				continue
			}
			seen[subject.Key()] = true
			subjects = append(subjects, subject)
		}
	}

	logger.WithFields(logrus.Fields{
		"pod_count":   len(pods.Items),
		"image_count": len(subjects),
	}).Info("Image discovery completed")

	return subjects, nil
}

func imagesFromPodSpec(spec corev1.PodSpec) []string {
	var images []string

	for _, container := range spec.Containers {
		if container.Image != "" {
			images = append(images, container.Image)
		}
	}

	for _, container := range spec.InitContainers {
		if container.Image != "" {
			images = append(images, container.Image)
		}
	}

	for _, container := range spec.EphemeralContainers {
		if container.Image != "" {
			images = append(images, container.Image)
		}
	}

	return images
}
