package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const managedByLabel = "app.kubernetes.io/managed-by"

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where tool Jobs are created
	Namespace string
	// VolumeClaim is the PersistentVolumeClaim holding the output tree. It is
	// mounted at ContainerDataDir in every Job.
	VolumeClaim string
	// Image is used when StartOptions.Image is empty.
	Image          string
	ServiceAccount string
	// Resource limits per tool Job
	CPULimit    string
	MemoryLimit string
}

// KubernetesRuntime runs each tool invocation as a Kubernetes Job.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
}

// KubernetesHandle represents a running Kubernetes Job.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	podName   string // Populated after pod starts
}

// NewKubernetesRuntime creates a Kubernetes-based runtime.
// Tries in-cluster configuration first, then $KUBECONFIG or ~/.kube/config.
func NewKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, _ := os.UserHomeDir()
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return newKubernetesRuntime(clientset, cfg), nil
}

func newKubernetesRuntime(clientset kubernetes.Interface, cfg KubernetesConfig) *KubernetesRuntime {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.CPULimit == "" {
		cfg.CPULimit = "1"
	}
	if cfg.MemoryLimit == "" {
		cfg.MemoryLimit = "4Gi"
	}
	return &KubernetesRuntime{clientset: clientset, config: cfg}
}

// Check implements Runtime.Check. Binaries are expected inside the image, so
// only the image setting and the volume claim are verified.
func (k *KubernetesRuntime) Check(ctx context.Context, _ ...string) error {
	if k.config.Image == "" {
		return fmt.Errorf("%w: no container image configured", ErrMissingPrerequisite)
	}
	if k.config.VolumeClaim == "" {
		return fmt.Errorf("%w: no volume claim configured", ErrMissingPrerequisite)
	}
	_, err := k.clientset.CoreV1().PersistentVolumeClaims(k.config.Namespace).Get(ctx, k.config.VolumeClaim, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("%w: volume claim %s/%s: %v", ErrMissingPrerequisite, k.config.Namespace, k.config.VolumeClaim, err)
	}
	return nil
}

// Start implements Runtime.Start by creating a Kubernetes Job.
// StartOptions.WorkDir is the claim's mount point on this side; relative
// paths in the command resolve against the claim root inside the Job.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	img := opts.Image
	if img == "" {
		img = k.config.Image
	}
	if img == "" {
		return nil, errors.New("image is required")
	}
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	jobName := "isimip-" + strings.ToLower(tool(opts.Command[0])) + "-" + uuid.NewString()[:8]

	var envVars []corev1.EnvVar
	for key, value := range opts.Env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}

	resources := corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(k.config.CPULimit),
			corev1.ResourceMemory: resource.MustParse(k.config.MemoryLimit),
		},
	}

	// Failed crops are reported per item; the Job itself never retries.
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: k.config.Namespace,
			Labels:    map[string]string{managedByLabel: "isimip"},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":     jobName,
						managedByLabel: "isimip",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:       "tool",
						Image:      img,
						Command:    opts.Command,
						Env:        envVars,
						WorkingDir: ContainerDataDir,
						Resources:  resources,
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "data",
							MountPath: ContainerDataDir,
						}},
					}},
					Volumes: []corev1.Volume{{
						Name: "data",
						VolumeSource: corev1.VolumeSource{
							PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
								ClaimName: k.config.VolumeClaim,
							},
						},
					}},
				},
			},
		},
	}
	if opts.Timeout > 0 {
		deadline := int64(opts.Timeout / time.Second)
		job.Spec.ActiveDeadlineSeconds = &deadline
	}
	if k.config.ServiceAccount != "" {
		job.Spec.Template.Spec.ServiceAccountName = k.config.ServiceAccount
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		jobName:   created.Name,
	}, nil
}

// tool returns a DNS-safe name fragment for an executable path.
func tool(bin string) string {
	name := filepath.Base(bin)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '-'
	}, name)
	if len(name) > 20 {
		name = name[:20]
	}
	return strings.Trim(name, "-")
}

// Wait blocks until the job's pod completes and returns the result.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	h.podName = podName

	watcher, err := h.clientset.CoreV1().Pods(h.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", podName),
	})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	defer watcher.Stop()

	for event := range watcher.ResultChan() {
		if event.Type == watch.Error {
			err := errors.New("pod watch error")
			return ExitResult{ExitCode: -1, Error: err}, err
		}

		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			continue
		}
		if result, done := podResult(pod); done {
			return result, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	err = errors.New("pod watch closed")
	return ExitResult{ExitCode: -1, Error: err}, err
}

// podResult maps a terminal pod phase onto an exit result.
func podResult(pod *corev1.Pod) (ExitResult, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return ExitResult{ExitCode: 0}, true
	case corev1.PodFailed:
		result := ExitResult{ExitCode: -1}
		for _, cs := range pod.Status.ContainerStatuses {
			if t := cs.State.Terminated; t != nil {
				result.ExitCode = int(t.ExitCode)
				if t.Reason != "" {
					result.Error = errors.New(t.Reason)
				}
				break
			}
		}
		if result.Error == nil && pod.Status.Reason != "" {
			result.Error = errors.New(pod.Status.Reason)
		}
		return result, true
	}
	return ExitResult{}, false
}

// waitForPod waits for the job's pod to be created and returns its name.
func (h *KubernetesHandle) waitForPod(ctx context.Context) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("job-name=%s", h.jobName),
		})
		if err != nil {
			return "", err
		}
		if len(pods.Items) > 0 {
			return pods.Items[0].Name, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop deletes the Kubernetes Job and its pod.
func (h *KubernetesHandle) Stop(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	return nil
}

// StreamLogs returns a reader for the job's pod logs.
func (h *KubernetesHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	if h.podName == "" {
		podName, err := h.waitForPod(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to find pod for job %s: %w", h.jobName, err)
		}
		h.podName = podName
	}

	if err := h.waitForContainerStarted(ctx); err != nil {
		return nil, err
	}

	req := h.clientset.CoreV1().Pods(h.namespace).GetLogs(h.podName, &corev1.PodLogOptions{
		Container: "tool",
	})
	return req.Stream(ctx)
}

// waitForContainerStarted waits for the container to run (or finish).
func (h *KubernetesHandle) waitForContainerStarted(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, h.podName, metav1.GetOptions{})
		if err != nil {
			return err
		}
		switch pod.Status.Phase {
		case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
